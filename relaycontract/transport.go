package relaycontract

// StreamDestroyedTexts are lower-case fragments of error text that mean the
// connection to the CLI was torn down mid-operation. Matching is by substring.
func StreamDestroyedTexts() []string {
	return []string{
		"err_stream_destroyed",
		"stream was destroyed",
		"cannot call write after a stream was destroyed",
		"broken pipe",
		"file already closed",
	}
}
