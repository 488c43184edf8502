package models

// Offer is a resource offer advertised by a worker node through the
// resource master, valid for the brief window before it must be answered
// with launchTasks or declineOffer.
type Offer struct {
	ID         string
	Resources  Resources
	Attributes map[string]string
	Hostname   string
	SlaveID    string
}

// LaunchSpec is what actually gets handed to the driver's launchTasks call:
// the wire-level description of a task to run, carved from a matched Offer.
type LaunchSpec struct {
	TaskID    string
	AppID     string
	Command   string
	Resources Resources
	Hostname  string
	SlaveID   string
}
