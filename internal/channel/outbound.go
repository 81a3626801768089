package channel

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkerMode selects how text longer than a channel's limit is split.
type ChunkerMode string

const (
	// ChunkerModeText splits on line breaks.
	ChunkerModeText ChunkerMode = "text"
	// ChunkerModeMarkdown splits on blank lines and never breaks a fenced
	// code block that fits in one chunk.
	ChunkerModeMarkdown ChunkerMode = "markdown"
)

const (
	defaultTextChunkLimit = 2000
	defaultRetryMax       = 3
	defaultRetryBackoffMs = 500
)

// Chunker splits text into parts of at most limit runes. A limit <= 0
// keeps the text whole.
type Chunker func(text string, limit int) []string

// OutboundPolicy controls chunking and the adapter-level retry of sends.
type OutboundPolicy struct {
	// TextChunkLimit is in runes; 0 means the default and -1 disables chunking.
	TextChunkLimit int         `json:"text_chunk_limit,omitempty"`
	ChunkerMode    ChunkerMode `json:"chunker_mode,omitempty"`
	Chunker        Chunker     `json:"-"`
	RetryMax       int         `json:"retry_max,omitempty"`
	RetryBackoffMs int         `json:"retry_backoff_ms,omitempty"`
}

// NormalizeOutboundPolicy fills unset fields with defaults.
func NormalizeOutboundPolicy(policy OutboundPolicy) OutboundPolicy {
	if policy.TextChunkLimit == 0 {
		policy.TextChunkLimit = defaultTextChunkLimit
	}
	if policy.ChunkerMode == "" {
		policy.ChunkerMode = ChunkerModeText
	}
	if policy.RetryMax <= 0 {
		policy.RetryMax = defaultRetryMax
	}
	if policy.RetryBackoffMs <= 0 {
		policy.RetryBackoffMs = defaultRetryBackoffMs
	}
	if policy.Chunker == nil {
		policy.Chunker = DefaultChunker(policy.ChunkerMode)
	}
	return policy
}

func DefaultChunker(mode ChunkerMode) Chunker {
	if mode == ChunkerModeMarkdown {
		return ChunkMarkdownText
	}
	return ChunkText
}

// ChunkText packs whole lines into chunks. A line longer than limit is cut
// at its last whitespace that fits, or at limit runes when there is none.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(trimmed) <= limit {
		return []string{trimmed}
	}
	return pack(strings.Split(trimmed, "\n"), "\n", limit, splitLine)
}

// ChunkMarkdownText packs markdown blocks into chunks. Blocks are separated
// by blank lines outside code fences; a block longer than limit falls back
// to ChunkText.
func ChunkMarkdownText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(trimmed) <= limit {
		return []string{trimmed}
	}
	return pack(markdownBlocks(trimmed), "\n\n", limit, ChunkText)
}

// pack joins consecutive parts with sep while the result stays within
// limit runes. A part that alone exceeds limit is handed to split.
func pack(parts []string, sep string, limit int, split Chunker) []string {
	var (
		chunks []string
		buf    []string
		size   int
	)
	sepLen := utf8.RuneCountInString(sep)
	flush := func() {
		if chunk := strings.Trim(strings.Join(buf, sep), "\n"); chunk != "" {
			chunks = append(chunks, chunk)
		}
		buf, size = buf[:0], 0
	}
	for _, part := range parts {
		n := utf8.RuneCountInString(part)
		if len(buf) > 0 && size+sepLen+n <= limit {
			buf = append(buf, part)
			size += sepLen + n
			continue
		}
		flush()
		if n <= limit {
			buf = append(buf, part)
			size = n
			continue
		}
		chunks = append(chunks, split(part, limit)...)
	}
	flush()
	return chunks
}

// markdownBlocks splits on blank lines, treating a fenced code block as
// part of the block it opens in.
func markdownBlocks(text string) []string {
	var (
		blocks  []string
		current []string
		fenced  bool
	)
	for _, line := range strings.Split(text, "\n") {
		marker := strings.TrimSpace(line)
		if strings.HasPrefix(marker, "```") || strings.HasPrefix(marker, "~~~") {
			fenced = !fenced
		}
		if marker == "" && !fenced {
			if len(current) > 0 {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = current[:0]
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks
}

func splitLine(line string, limit int) []string {
	if limit <= 0 {
		return []string{line}
	}
	var chunks []string
	runes := []rune(strings.TrimSpace(line))
	for len(runes) > limit {
		cut := limit
		for i := limit; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if head := strings.TrimSpace(string(runes[:cut])); head != "" {
			chunks = append(chunks, head)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
