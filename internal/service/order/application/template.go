package application

import (
	"regexp"
	"strconv"

	"fooddelivery/internal/service/order/domain"
)

// DefaultAutoCancelTemplate 在配置的模板为空时使用。
const DefaultAutoCancelTemplate = "Your order #{{orderId}} for {{amount}} was cancelled because the payment was not received in time."

var placeholder = regexp.MustCompile(`\{\{\s*(orderId|amount)\s*\}\}`)

// RenderAutoCancelMessage 替换模板中的 {{orderId}} 与 {{amount}}，未知占位符原样保留。
func RenderAutoCancelMessage(tpl string, order *domain.Order) string {
	if tpl == "" {
		tpl = DefaultAutoCancelTemplate
	}
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		switch placeholder.FindStringSubmatch(m)[1] {
		case "orderId":
			if order.DisplayID != "" {
				return order.DisplayID
			}
			return strconv.FormatInt(order.ID, 10)
		default:
			return order.TotalAmount.StringFixed(2)
		}
	})
}
