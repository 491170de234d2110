package session

// NoticeKind classifies user-visible conditions the controller cannot
// resolve on its own.
type NoticeKind int

const (
	// NoticeStorageFailure: the credential store rejected a write or
	// clear. The current hand-off was aborted.
	NoticeStorageFailure NoticeKind = iota

	// NoticeExtractionTimeout: the sign-in attempt produced no token
	// within the configured window. The user may retry; nothing
	// retries automatically.
	NoticeExtractionTimeout

	// NoticeShellClosed: the embedded browser went away before a
	// token arrived.
	NoticeShellClosed
)

// Notice is delivered on the UI context via OnNotice.
type Notice struct {
	Kind    NoticeKind
	Message string
}
