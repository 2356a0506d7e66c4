package upstream

// Wire types for the BidiGenerateContent streaming protocol. The vendor
// contract is fixed: a single setup handshake, realtime media input, tool
// call/response exchanges, and server content carrying generated parts.

type setupMessage struct {
	Setup Setup `json:"setup"`
}

// Setup is the handshake payload sent once per connection.
type Setup struct {
	Model             string           `json:"model"`
	GenerationConfig  GenerationConfig `json:"generation_config"`
	Tools             []Tool           `json:"tools,omitempty"`
	SystemInstruction *Content         `json:"system_instruction,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string      `json:"response_modalities"`
	SpeechConfig       *SpeechConfig `json:"speech_config,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voice_config"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuilt_voice_config"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voice_name"`
}

// Tool carries either the built-in search capability or a set of declared
// functions, never both in one entry.
type Tool struct {
	GoogleSearch         *GoogleSearch         `json:"googleSearch,omitempty"`
	FunctionDeclarations []FunctionDeclaration `json:"function_declarations,omitempty"`
}

type GoogleSearch struct{}

type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// Schema is the parameter-schema subset the memory tools need.
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
}

type Content struct {
	Parts []TextPart `json:"parts"`
	Role  string     `json:"role,omitempty"`
}

type TextPart struct {
	Text string `json:"text"`
}

type realtimeInputMessage struct {
	RealtimeInput RealtimeInput `json:"realtime_input"`
}

// RealtimeInput carries media chunks or an interrupt signal.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"media_chunks,omitempty"`
	Interrupt   bool         `json:"interrupt,omitempty"`
}

type MediaChunk struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

type clientContentMessage struct {
	ClientContent ClientContent `json:"clientContent"`
}

type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type toolResponseMessage struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// FunctionResponse echoes a tool result keyed by the originating call id.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ServerMessage is one frame received from the upstream service. Exactly one
// of the fields is populated per frame.
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ToolCall      *ToolCall      `json:"toolCall,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
}

type SetupComplete struct{}

type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ServerContent carries generated parts plus turn/interruption status.
type ServerContent struct {
	ModelTurn    *ModelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

type ModelTurn struct {
	Parts []Part `json:"parts"`
}

// Part is one generated piece: inline binary media or assistant text.
type Part struct {
	InlineData *InlineData `json:"inlineData,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}
