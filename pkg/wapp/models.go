package wapp

// Button is one quick-reply button on an interactive message. WhatsApp
// allows at most three per message.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListRow is one selectable row inside a list section.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups rows under a section title.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// ---------------------------------------------------------------------------
// Graph API wire types
// ---------------------------------------------------------------------------

type outboundMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textBody    `json:"text,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
	Image            *mediaBody   `json:"image,omitempty"`
	Document         *mediaBody   `json:"document,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type mediaBody struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type interactive struct {
	Type   string            `json:"type"`
	Body   *textBody         `json:"body,omitempty"`
	Action interactiveAction `json:"action"`
}

type interactiveAction struct {
	Buttons  []wireButton  `json:"buttons,omitempty"`
	Button   string        `json:"button,omitempty"`
	Sections []ListSection `json:"sections,omitempty"`
}

type wireButton struct {
	Type  string `json:"type"`
	Reply Button `json:"reply"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}
