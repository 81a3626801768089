package channel

// Capabilities describes what a channel can carry. The engine rejects
// requests a channel cannot express before handing them to the adapter.
type Capabilities struct {
	Text        bool `json:"text"`
	Markdown    bool `json:"markdown"`
	Attachments bool `json:"attachments"`
	Reply       bool `json:"reply"`
	Threads     bool `json:"threads"`
	Edit        bool `json:"edit"`
	Subject     bool `json:"subject"`
}
