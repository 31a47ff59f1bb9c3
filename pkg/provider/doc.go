// Package provider defines the completion provider interface and the backends
// used by the fallback dispatcher (Ollama, OpenAI-compatible APIs such as Groq
// and Together AI, and the Hugging Face inference API).
package provider
