package generator

import "strings"

// SystemPrompt is the fixed instruction sent ahead of every wireframe.
const SystemPrompt = `You are an expert web developer who specializes in tailwind css.
A user will provide you with a low-fidelity wireframe of an application.
You will return a single html file that uses HTML, tailwind css, and JavaScript to create a high fidelity website.
Include any extra CSS and JavaScript in the html file.
If you have any images, load them from Unsplash or use solid colored rectangles.
The user will provide you with notes in blue or red text, arrows, or drawings.
Text marked as an annotation (red) describes changes the user requires; treat the colors of notes as hints about their meaning.
The user may also include images of other websites as style references. Transfer the styles as best as you can, matching fonts / colors / layouts.
They may also provide you with the html of a previous design that they want you to iterate from.
Carry out any changes they request from you.
In the wireframe, the previous design's html will appear as a white rectangle.
Use creative license to make the application more fleshed out.
Use JavaScript modules and unpkg to import any necessary dependencies.

Respond ONLY with the contents of the html file.`

// Instruction is the first text part of the user message.
const Instruction = "Turn this into a single html file using tailwind."

const (
	textPreamble     = "Here's a list of all the text that we found in the design. Use it as a reference if anything is hard to read in the screenshot:\n"
	previousPreamble = "Here is the html of the previous design that the user wants you to iterate from. It appears as a white rectangle in the wireframe:\n"
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type PartKind string

const (
	PartImage PartKind = "image_url"
	PartText  PartKind = "text"
)

// Part is one typed element of a user message.
type Part struct {
	Kind     PartKind
	ImageURL string
	Detail   string
	Text     string
}

// Prompt 表示发送给 LLM 的消息集合：一条 system，一条多段 user。
type Prompt struct {
	System string
	Parts  []Part
}

// Message is a role-tagged prompt message. System messages carry Content,
// user messages carry Parts.
type Message struct {
	Role    Role
	Content string
	Parts   []Part
}

// Messages returns exactly one system message followed by one user message.
func (p Prompt) Messages() []Message {
	return []Message{
		{Role: RoleSystem, Content: p.System},
		{Role: RoleUser, Parts: p.Parts},
	}
}

// PromptInput is everything gathered from the selection.
type PromptInput struct {
	// Image is a data URI of the rasterized selection.
	Image string
	// Text is the extracted selection text; may be empty.
	Text string
	// Previous is the payload of a previously generated document; may be empty.
	Previous string
	// Theme is "light" or "dark".
	Theme string
}

// BuildPrompt orders the user parts as image, instruction, text, previous document.
func BuildPrompt(in PromptInput) Prompt {
	instruction := Instruction
	if in.Theme == "dark" {
		instruction += " The user is using dark mode, so prefer a dark color scheme unless the wireframe says otherwise."
	}

	parts := []Part{
		{Kind: PartImage, ImageURL: in.Image, Detail: "high"},
		{Kind: PartText, Text: instruction},
	}
	if t := strings.TrimSpace(in.Text); t != "" {
		parts = append(parts, Part{Kind: PartText, Text: textPreamble + t})
	}
	if in.Previous != "" {
		parts = append(parts, Part{Kind: PartText, Text: previousPreamble + in.Previous})
	}

	return Prompt{System: SystemPrompt, Parts: parts}
}
