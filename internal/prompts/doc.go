// Package prompts holds the text Meetly sends to models: the per-turn
// system prompt and the fixed replies the agent loop falls back to.
//
// Prompt text is Go code rather than config because it is program
// logic: it is interpolated with fmt.Sprintf and covered by tests.
// Each exported function takes the dynamic parts and returns the
// finished string.
package prompts
