package domain

// EmailMessage is an outbound mail handed to the notification queue. Delivery
// is asynchronous and best-effort; no use case waits on it.
type EmailMessage struct {
	ToName  string `json:"to_name"`
	ToEmail string `json:"to_email"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}
