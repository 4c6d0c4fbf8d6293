package chat

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pantrywatch/pantrywatch/internal/domain"
)

var typeIcons = map[domain.NotificationType]string{
	domain.NotificationExpired:            "🚨",
	domain.NotificationExpiryCritical:     "⚠️",
	domain.NotificationExpiryWarning:      "⏳",
	domain.NotificationLowStock:           "📉",
	domain.NotificationCollectionReminder: "📦",
	domain.NotificationSystemAlert:        "🔔",
	domain.NotificationUserAction:         "👤",
}

// detailKeys are the data fields appended as labelled lines, in display order.
var detailKeys = []string{"product_name", "quantity", "unit", "expiry_date", "days_left", "department_id"}

var titleCaser = cases.Title(language.English)

// RenderMessage builds the chat text: an icon prefix by type, the title and
// message, then one labelled line per known structured data field present.
func RenderMessage(n *domain.Notification) string {
	var b strings.Builder

	icon, ok := typeIcons[n.Type]
	if !ok {
		icon = "🔔"
	}

	fmt.Fprintf(&b, "%s %s\n", icon, n.Title)
	if n.Message != "" {
		b.WriteString(n.Message)
		b.WriteString("\n")
	}

	for _, key := range detailKeys {
		value, ok := n.Data[key]
		if !ok || value == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", fieldLabel(key), value)
	}

	return strings.TrimRight(b.String(), "\n")
}

// fieldLabel turns a snake_case data key into a display label.
func fieldLabel(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}
