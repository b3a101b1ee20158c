package srt

// contextWindow is how many neighbouring entry texts are exposed to a chunk
// as translation context.
const contextWindow = 5

// Chunk is an ordered, contiguous slice of a file's entries.
type Chunk struct {
	Index   int // position within the file, 0-based
	Entries []Entry
}

// SplitChunks groups entries into consecutive chunks of at most n entries.
// The chunks form a total, in-order partition of the input.
func SplitChunks(entries []Entry, n int) ([]Chunk, error) {
	if n <= 0 {
		return nil, ErrInvalidChunkSize
	}

	chunks := make([]Chunk, 0, (len(entries)+n-1)/n)
	for start := 0; start < len(entries); start += n {
		end := start + n
		if end > len(entries) {
			end = len(entries)
		}
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Entries: entries[start:end],
		})
	}
	return chunks, nil
}

// Texts returns the text field of each entry in the chunk, in order.
func (c Chunk) Texts() []string {
	texts := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		texts[i] = e.Text
	}
	return texts
}

// PrevContext returns the texts of the last entries of chunk k-1,
// empty for the first chunk. Indices and timestamps are withheld.
func PrevContext(chunks []Chunk, k int) []string {
	if k <= 0 || k >= len(chunks) {
		return nil
	}
	prev := chunks[k-1].Entries
	start := len(prev) - contextWindow
	if start < 0 {
		start = 0
	}
	texts := make([]string, 0, len(prev)-start)
	for _, e := range prev[start:] {
		texts = append(texts, e.Text)
	}
	return texts
}

// NextContext returns the texts of the first entries of chunk k+1,
// empty for the last chunk.
func NextContext(chunks []Chunk, k int) []string {
	if k < 0 || k+1 >= len(chunks) {
		return nil
	}
	next := chunks[k+1].Entries
	end := contextWindow
	if end > len(next) {
		end = len(next)
	}
	texts := make([]string, 0, end)
	for _, e := range next[:end] {
		texts = append(texts, e.Text)
	}
	return texts
}
