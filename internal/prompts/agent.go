package prompts

// IterationLimitReply is appended as the final assistant message when
// a turn uses up its reason/act cycles without a final answer.
const IterationLimitReply = "I wasn't able to complete that request within the allowed number of steps. Please try rephrasing it or breaking it into smaller requests."

// EmptyResponseFallback is shown when the model ends a turn with
// neither text nor tool calls.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."
