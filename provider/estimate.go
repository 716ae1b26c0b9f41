package provider

// estimateTokens approximates a request's input token count before the call
// is made, so the Rate-Limited Caller's tokens/min bucket (SPEC_FULL.md
// §4.2) can reserve capacity ahead of a response that hasn't happened yet.
// This deliberately does not load a real tokenizer (e.g. tiktoken-go's
// GetEncoding, which fetches its BPE rank file over the network on first
// use): a per-call estimate sitting on the hot path of every provider call
// has to be synchronous and offline, and none of the four providers share a
// tokenizer anyway. The chars/4 rule of thumb only has to land in the right
// neighborhood, since AdjustTokens trues the reservation up against the
// provider's actually-reported usage as soon as the call returns.
func estimateTokens(req Request) int {
	chars := len(req.SystemText) + len(req.Prompt)
	return (chars + 3) / 4
}
