package qa

import "strings"

// WER computes word error rate between a reference and a hypothesis
// transcript: word-level edit distance divided by the reference length.
// An empty hypothesis against a non-empty reference scores 1.0; identical
// texts score 0.0. Comparison is case-insensitive on whitespace-split words.
func WER(reference, hypothesis string) float64 {
	ref := tokenize(reference)
	hyp := tokenize(hypothesis)

	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0.0
		}
		return 1.0
	}

	dist := editDistance(ref, hyp)
	return float64(dist) / float64(len(ref))
}

// Drift measures vocabulary divergence between two transcripts as one minus
// the Jaccard similarity of their token sets. 0.0 means the same vocabulary,
// 1.0 means fully disjoint.
func Drift(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return 1.0 - float64(intersection)/float64(union)
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// editDistance is word-level Levenshtein with two rolling rows
func editDistance(ref, hyp []string) int {
	prev := make([]int, len(hyp)+1)
	cur := make([]int, len(hyp)+1)
	for j := 0; j <= len(hyp); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ref); i++ {
		cur[0] = i
		for j := 1; j <= len(hyp); j++ {
			sub := prev[j-1]
			if ref[i-1] != hyp[j-1] {
				sub++
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			cur[j] = sub
			if del < cur[j] {
				cur[j] = del
			}
			if ins < cur[j] {
				cur[j] = ins
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(hyp)]
}
