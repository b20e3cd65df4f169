package application

import (
	"fmt"

	"fooddelivery/internal/service/notification/domain"
	orderdomain "fooddelivery/internal/service/order/domain"
)

var staffTexts = map[orderdomain.Status]string{
	orderdomain.StatusNew:              "🆕 New order %s (%s)",
	orderdomain.StatusAccepted:         "✅ Order %s (%s) accepted",
	orderdomain.StatusSentToKitchen:    "👨‍🍳 Order %s (%s) sent to kitchen",
	orderdomain.StatusKitchenAccepted:  "📥 Kitchen accepted order %s (%s)",
	orderdomain.StatusPreparing:        "🔥 Order %s (%s) is being prepared",
	orderdomain.StatusReadyForDelivery: "📦 Order %s (%s) is ready for delivery",
	orderdomain.StatusCourierAssigned:  "🛵 Courier assigned to order %s (%s)",
	orderdomain.StatusInTransit:        "🚚 Order %s (%s) is on the way",
	orderdomain.StatusDelivered:        "🏁 Order %s (%s) delivered",
	orderdomain.StatusCancelled:        "❌ Order %s (%s) cancelled",
}

var customerTexts = map[orderdomain.Status]string{
	orderdomain.StatusAccepted:         "Your order %s has been accepted.",
	orderdomain.StatusSentToKitchen:    "Your order %s has been sent to the kitchen.",
	orderdomain.StatusKitchenAccepted:  "The kitchen has started on your order %s.",
	orderdomain.StatusPreparing:        "Your order %s is being prepared.",
	orderdomain.StatusReadyForDelivery: "Your order %s is ready.",
	orderdomain.StatusCourierAssigned:  "A courier has been assigned to your order %s.",
	orderdomain.StatusInTransit:        "Your order %s is on the way.",
	orderdomain.StatusDelivered:        "Your order %s has been delivered. Enjoy!",
	orderdomain.StatusCancelled:        "Your order %s has been cancelled.",
}

// RenderStatusText 按受众生成状态变更的文本
func RenderStatusText(audience domain.Audience, event *orderdomain.NotificationEvent) string {
	orderRef := event.DisplayID
	if orderRef == "" {
		orderRef = fmt.Sprintf("#%d", event.OrderID)
	}

	if audience == domain.AudienceCustomer {
		if tpl, ok := customerTexts[event.Status]; ok {
			return fmt.Sprintf(tpl, orderRef)
		}
		return fmt.Sprintf("Your order %s is now %s.", orderRef, event.Status)
	}

	text := fmt.Sprintf("Order %s: %s → %s", orderRef, event.PreviousStatus, event.Status)
	if tpl, ok := staffTexts[event.Status]; ok {
		text = fmt.Sprintf(tpl, orderRef, event.TotalAmount.StringFixed(2))
	}
	if event.ActorRole != "" {
		text += fmt.Sprintf("\nby %s", event.ActorRole)
	}
	if event.Comment != "" {
		text += "\n💬 " + event.Comment
	}
	return text
}
