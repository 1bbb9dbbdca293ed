package snsgw

// DetailType constants for forwarded EventBridge events.
const (
	DetailTypeNotification          = "Notification Received"
	DetailTypeSubscriptionConfirmed = "Subscription Confirmed"
)

func detailType(result *WebhookResult) string {
	if result.Kind == PayloadTypeSubscriptionConfirmation {
		return DetailTypeSubscriptionConfirmed
	}
	return DetailTypeNotification
}
