// Package extraction defines the boundary between the task pipeline and the
// generative model that turns a PDF or a block of text into a structured
// sample paper. Implementations live under internal/platform.
package extraction
