// Package emergency implements the escalation state machine that monitors
// battery, zone and communication failures and preempts the normal decision
// cycle when a safety threshold is crossed.
package emergency
