// Command ragclient drives index generation runs and conversational
// sessions against a ragstudio backend from the terminal.
//
//	ragclient -resource docs
//	ragclient -scope workspace-1 -message "what changed?"
//	ragclient -scope workspace-1 -history
package main
