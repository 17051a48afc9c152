package whatsapp

// Payload is the webhook body posted by the WhatsApp Cloud API.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type Message struct {
	From      string          `json:"from"`
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Text      *TextBody       `json:"text,omitempty"`
	Context   *MessageContext `json:"context,omitempty"`
	// GroupID is set by gateways that relay group traffic; it carries the
	// "@g.us" chat id.
	GroupID string `json:"group_id,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

type MessageContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// Inbound is one message together with the change it arrived in, which
// holds the sender's profile name.
type Inbound struct {
	Message  Message
	Contacts []Contact
	Metadata Metadata
}

// Inbound flattens the payload into individual messages. Status updates
// and other fields are skipped.
func (p Payload) Inbound() []Inbound {
	var out []Inbound
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			if c.Field != "messages" {
				continue
			}
			for _, m := range c.Value.Messages {
				out = append(out, Inbound{Message: m, Contacts: c.Value.Contacts, Metadata: c.Value.Metadata})
			}
		}
	}
	return out
}
