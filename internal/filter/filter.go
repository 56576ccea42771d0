package filter

import (
	"strings"

	"github.com/capitalrow/scribed/internal/observability"
	"github.com/capitalrow/scribed/internal/session"
	"github.com/capitalrow/scribed/internal/transcription"
)

// Rejection reasons as emitted in metrics and error events
const (
	ReasonLowConfidence = "low_conf_suppressed"
	ReasonDuplicate     = "dedupe_hits"
	ReasonRepetitive    = "repetitive_filtered"
	ReasonEmpty         = "empty_text"
)

// Verdict is the outcome of running a transcription result through the
// quality filters
type Verdict struct {
	Accepted bool
	Reason   string // set when rejected
	Final    bool   // classification of the accepted result
}

// Config holds the quality filter thresholds
type Config struct {
	MinConfidence       float64
	SimilarityThreshold float64
	RepetitionRunLength int
}

// DefaultConfig returns the filter defaults
func DefaultConfig() Config {
	return Config{
		MinConfidence:       0.40,
		SimilarityThreshold: 0.90,
		RepetitionRunLength: 3,
	}
}

// candidate carries a result plus its derived text forms through the chain
// so each stage works from the same normalization
type candidate struct {
	result     *transcription.Result
	text       string
	normalized string
}

// stage is one quality check in the chain. Check returns a rejection reason,
// or the empty string to pass the candidate on.
type stage interface {
	Check(state *session.State, c *candidate) string
}

// Filter suppresses low-confidence, duplicate, and stuck-loop transcription
// results before they reach the client. Apply mutates the session state's
// dedup window and repetition counters, so the caller must hold the session
// lock.
type Filter struct {
	stages []stage
}

// New creates a quality filter
func New(config Config) *Filter {
	if config.MinConfidence <= 0 {
		config.MinConfidence = 0.40
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = 0.90
	}
	if config.RepetitionRunLength <= 0 {
		config.RepetitionRunLength = 3
	}
	return &Filter{
		stages: []stage{
			emptyStage{},
			confidenceStage{min: config.MinConfidence},
			repetitionStage{runLength: config.RepetitionRunLength},
			dedupStage{threshold: config.SimilarityThreshold},
		},
	}
}

// Apply runs the stages in order. The first rejection wins and later stages
// do not run, so a rejected result never enters the dedup window.
func (f *Filter) Apply(state *session.State, result *transcription.Result) Verdict {
	c := &candidate{
		result: result,
		text:   strings.TrimSpace(result.Text),
	}
	c.normalized = Normalize(c.text)

	for _, s := range f.stages {
		if reason := s.Check(state, c); reason != "" {
			observability.RecordFilterRejection(reason)
			return Verdict{Accepted: false, Reason: reason}
		}
	}

	state.Dedup.Add(c.normalized)
	return Verdict{Accepted: true, Final: IsFinal(result)}
}

type emptyStage struct{}

func (emptyStage) Check(_ *session.State, c *candidate) string {
	if c.text == "" {
		return ReasonEmpty
	}
	return ""
}

type confidenceStage struct {
	min float64
}

func (s confidenceStage) Check(_ *session.State, c *candidate) string {
	if c.result.Confidence < s.min {
		return ReasonLowConfidence
	}
	return ""
}

// repetitionStage catches stuck loops two ways: a phrase repeating inside a
// single result, and identical results arriving back to back.
type repetitionStage struct {
	runLength int
}

func (s repetitionStage) Check(state *session.State, c *candidate) string {
	if tokenRun(strings.Fields(c.normalized), s.runLength) {
		return ReasonRepetitive
	}

	// Track consecutive identical results across accept/reject, since a
	// stuck backend repeats itself regardless of what we suppressed.
	if c.normalized == state.LastNormalized {
		state.RepeatRun++
	} else {
		state.LastNormalized = c.normalized
		state.RepeatRun = 1
	}
	if state.RepeatRun >= s.runLength {
		return ReasonRepetitive
	}
	return ""
}

type dedupStage struct {
	threshold float64
}

func (s dedupStage) Check(state *session.State, c *candidate) string {
	for _, prev := range state.Dedup.Recent() {
		if prev == c.normalized {
			return ReasonDuplicate
		}
		if Similarity(prev, c.normalized) >= s.threshold {
			return ReasonDuplicate
		}
	}
	return ""
}

// tokenRun reports whether the token stream contains runLength or more
// consecutive occurrences of the same n-gram, for n up to 3. Single repeated
// words ("so so so so") and looping phrases ("go team go team go team") both
// count.
func tokenRun(tokens []string, runLength int) bool {
	for n := 1; n <= 3; n++ {
		if len(tokens) < n*runLength {
			continue
		}
		for offset := 0; offset < n; offset++ {
			run := 1
			for i := offset + n; i+n <= len(tokens); i += n {
				if equalGram(tokens, i-n, i, n) {
					run++
					if run >= runLength {
						return true
					}
				} else {
					run = 1
				}
			}
		}
	}
	return false
}

func equalGram(tokens []string, a, b, n int) bool {
	for k := 0; k < n; k++ {
		if tokens[a+k] != tokens[b+k] {
			return false
		}
	}
	return true
}

// Normalize lowercases and collapses runs of whitespace so that trivially
// different renderings of the same utterance compare equal
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// IsFinal classifies a result as finalized: either the backend marked it
// final, or the text ends with terminal punctuation
func IsFinal(result *transcription.Result) bool {
	if result.IsFinal {
		return true
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// Similarity returns the ratio of matching characters between two strings,
// 2*M/(len(a)+len(b)), where M is the total length of matching blocks found
// by recursive longest-common-substring. 1.0 means identical, 0.0 disjoint.
func Similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	matches := matchingBlocks(a, b)
	return 2.0 * float64(matches) / float64(len(a)+len(b))
}

// matchingBlocks sums the lengths of non-overlapping matching substrings,
// recursing on the regions left of and right of the longest match
func matchingBlocks(a, b string) int {
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingBlocks(a[:ai], b[:bi])
	total += matchingBlocks(a[ai+size:], b[bi+size:])
	return total
}

func longestMatch(a, b string) (int, int, int) {
	bestA, bestB, bestSize := 0, 0, 0
	// lengths[j] holds the length of the common suffix of a[:i] and b[:j]
	lengths := make([]int, len(b)+1)
	for i := 0; i < len(a); i++ {
		prev := 0
		for j := 0; j < len(b); j++ {
			cur := lengths[j+1]
			if a[i] == b[j] {
				lengths[j+1] = prev + 1
				if lengths[j+1] > bestSize {
					bestSize = lengths[j+1]
					bestA = i - bestSize + 1
					bestB = j - bestSize + 1
				}
			} else {
				lengths[j+1] = 0
			}
			prev = cur
		}
	}
	return bestA, bestB, bestSize
}
