// Package llm contains adapters for invoking large language models on
// behalf of council participants. It abstracts away provider-specific
// APIs and normalizes request/response lifecycles for the agent layer.
package llm
