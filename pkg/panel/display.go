package panel

// Display is where one endpoint's panel is rendered. Implementations must be
// safe for use from multiple goroutines.
type Display interface {
	// ShowFrame renders a captured screen image
	ShowFrame(frame []byte)

	// ShowError switches the panel to a persistent error state with the
	// server-provided message
	ShowError(message string)

	ShowUserName(name string)
	ShowHostName(name string)

	// ShowMessage adds a relayed chat message. outgoing is true for messages
	// the operator sent.
	ShowMessage(text string, outgoing bool)
}

// DisplayFactory creates the Display for a newly admitted (or rejected) address
type DisplayFactory func(address string) Display

// Visibility tells a Poller whether its panel can currently be seen
type Visibility interface {
	// Focused reports whether the viewing surface has focus
	Focused() bool

	// Visible reports whether the panel itself is on screen
	Visible() bool
}

// AlwaysVisible is a Visibility for headless panels
type AlwaysVisible struct{}

// Focused implements Visibility
func (AlwaysVisible) Focused() bool { return true }

// Visible implements Visibility
func (AlwaysVisible) Visible() bool { return true }
