package graph

// Fixed content of the scheduled message
const (
	FixedSubject = "Test Email from Go"
	FixedContent = "Hello! This is a test email using OAuth2."
)

// Message is the sendMail request body
type Message struct {
	Message         MessageContent `json:"message"`
	SaveToSentItems bool           `json:"saveToSentItems"`
}

// MessageContent is the message resource inside a sendMail request
type MessageContent struct {
	Subject      string      `json:"subject"`
	Body         ItemBody    `json:"body"`
	ToRecipients []Recipient `json:"toRecipients"`
}

// ItemBody holds the message body and its content type ("Text" or "HTML")
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Recipient wraps one email address
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// EmailAddress is a Graph emailAddress resource
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// FixedMessage builds the plain text test message sent on every tick.
// A copy is kept in Sent Items.
func FixedMessage(recipient string) Message {
	return Message{
		Message: MessageContent{
			Subject: FixedSubject,
			Body: ItemBody{
				ContentType: "Text",
				Content:     FixedContent,
			},
			ToRecipients: []Recipient{
				{EmailAddress: EmailAddress{Address: recipient}},
			},
		},
		SaveToSentItems: true,
	}
}
