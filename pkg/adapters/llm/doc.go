// Package llm provides LLM client implementations backing the action:llm
// node handler.
//
// The factory creates clients based on provider configuration. Currently
// supports:
//   - Anthropic Claude
package llm
