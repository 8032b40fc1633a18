package chunk

// Tokenizer converts text to token ids and back.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(tokens []int) (string, error)
}

// Settings configures the token windows.
type Settings struct {
	// MaxLength bounds the number of tokens per chunk.
	MaxLength int
	// Stride is the number of tokens shared by consecutive windows.
	Stride int
}

const (
	DefaultMaxLength = 512
	DefaultStride    = 50
)

// DefaultSettings returns the 512/50 window configuration.
func DefaultSettings() Settings {
	return Settings{MaxLength: DefaultMaxLength, Stride: DefaultStride}
}

// Chunk is one decoded token window of a document.
type Chunk struct {
	Index int
	Text  string
	// Start is the offset of the window's first token in the document.
	Start  int
	Tokens int
}
