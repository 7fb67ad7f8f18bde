package notification

// Notifier is the fire-and-forget notification sink. Delivery is
// best-effort: implementations log and swallow failures, and a committed
// state transition is never rolled back because a notification could not be
// sent.
type Notifier interface {
	Notify(userID, eventType string, payload map[string]string)
}

// Intent is a notification collected during a state transition and
// dispatched only after the transaction commits.
type Intent struct {
	UserID    string
	EventType string
	Payload   map[string]string
}

// Notification event types emitted by the engine.
const (
	EventCheckInConfirmed = "booking.check_in_confirmed"
	EventCheckedOut       = "booking.checked_out"
	EventDepositRefunded  = "booking.deposit_refunded"
	EventRoomFeeReleased  = "booking.room_fee_released"
	EventBookingCancelled = "booking.cancelled"
	EventCheckInReminder  = "booking.check_in_reminder"
	EventCheckOutReminder = "booking.check_out_reminder"
)
