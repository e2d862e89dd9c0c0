package bot

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"reserva/internal/model"
)

var (
	typeLabels = map[model.ReservationType]string{
		model.TypeBirthday: "🎂 Birthday",
		model.TypeParty:    "🎉 Party",
		model.TypeMeeting:  "🤝 Meeting",
	}
	menuLabels = map[model.MenuType]string{
		model.MenuStandard:     "Standard menu",
		model.MenuFixedPackage: "Fixed package",
	}
	locationLabels = map[model.Location]string{
		model.LocationNearStage:   "Near the stage",
		model.LocationNearPlay:    "Near the play area",
		model.LocationOutdoorArea: "Outdoor area",
	}
)

func typeKeyboard() tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, 3)
	for _, t := range []model.ReservationType{model.TypeBirthday, model.TypeParty, model.TypeMeeting} {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(typeLabels[t], "type:"+string(t)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row, backRow())
}

func menuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(menuLabels[model.MenuStandard], "menu:"+string(model.MenuStandard)),
			tgbotapi.NewInlineKeyboardButtonData(menuLabels[model.MenuFixedPackage], "menu:"+string(model.MenuFixedPackage)),
		),
	)
}

func panelKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Yes", "panel:yes"),
			tgbotapi.NewInlineKeyboardButtonData("❌ No", "panel:no"),
		),
	)
}

func locationKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(model.Locations))
	for _, l := range model.Locations {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(locationLabels[l], "loc:"+string(l)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func skipKeyboard(f field) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Skip ➡️", "skip:"+string(f)),
		),
	)
}

// timeSlotsKeyboard lays the slots out three per row.
func timeSlotsKeyboard(slots []string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0)
	var current []tgbotapi.InlineKeyboardButton
	for _, slot := range slots {
		current = append(current, tgbotapi.NewInlineKeyboardButtonData(slot, "time:"+slot))
		if len(current) == 3 {
			rows = append(rows, current)
			current = nil
		}
	}
	if len(current) > 0 {
		rows = append(rows, current)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📅 Another date", "edit:"+string(fieldDate)),
	))
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// calendarKeyboard builds a Monday-first month grid. Days for which open
// returns false are shown as a dot and cannot be picked.
func calendarKeyboard(year int, month time.Month, open func(model.Date) bool) tgbotapi.InlineKeyboardMarkup {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := int(first.Weekday())
	if offset == 0 {
		offset = 7
	}
	days := first.AddDate(0, 1, -1).Day()

	rows := [][]tgbotapi.InlineKeyboardButton{
		{tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s %d", month, year), "noop")},
		weekdayHeader(),
	}

	day := 1
	for day <= days {
		row := make([]tgbotapi.InlineKeyboardButton, 0, 7)
		for col := 1; col <= 7; col++ {
			if (len(rows) == 2 && col < offset) || day > days {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(" ", "noop"))
				continue
			}
			d := model.MustDate(year, month, day)
			if open != nil && !open(d) {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData("·", "noop"))
			} else {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d", day), "date:"+d.String()))
			}
			day++
		}
		rows = append(rows, row)
	}

	prev := first.AddDate(0, -1, 0)
	next := first.AddDate(0, 1, 0)
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("◀️", "cal:"+prev.Format("2006-01")),
		tgbotapi.NewInlineKeyboardButtonData("▶️", "cal:"+next.Format("2006-01")),
	))
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func weekdayHeader() []tgbotapi.InlineKeyboardButton {
	names := []string{"Mo", "Tu", "We", "Th", "Fr", "Sa", "Su"}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(names))
	for _, n := range names {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(n, "noop"))
	}
	return row
}

// reviewKeyboard lets the user edit any answer of a finished step or move on.
func reviewKeyboard(fields []field) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(fields)+1)
	var current []tgbotapi.InlineKeyboardButton
	for _, f := range fields {
		current = append(current, tgbotapi.NewInlineKeyboardButtonData("✏️ "+fieldLabels[f], "edit:"+string(f)))
		if len(current) == 2 {
			rows = append(rows, current)
			current = nil
		}
	}
	if len(current) > 0 {
		rows = append(rows, current)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "back"),
		tgbotapi.NewInlineKeyboardButtonData("Next ➡️", "next"),
	))
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func summaryKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "back"),
			tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", "confirm"),
		),
	)
}

func backRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "back"))
}
