// Package reason преобразует служебные теги причин журнала в пользовательские подписи.
package reason

import "strings"

// Label возвращает человекочитаемую подпись для тега причины.
// Неизвестные теги возвращаются без изменений.
func Label(reason string) string {
	switch {
	case strings.HasPrefix(reason, "order:"):
		return "Compra realizada"
	case strings.HasPrefix(reason, "refund:"):
		return "Estorno"
	case strings.HasPrefix(reason, "redeem:"):
		return "Resgate de recompensa"
	}
	return reason
}
