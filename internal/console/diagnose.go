package console

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/loykin/arkwarden/internal/events"
)

// Diagnostic step names, in run order.
const (
	StepHostResolution = "Host Resolution"
	StepRawTCP         = "Raw TCP Test"
	StepTCPConnection  = "TCP Connection"
	StepAuthentication = "RCON Authentication"
	StepRCONConnection = "RCON Connection"
	StepSaveWorld      = "Test Command (saveworld)"
	StepBroadcast      = "Test Command (broadcast)"
	StepComplete       = "Diagnostic Complete"
)

const broadcastTest = "broadcast RCON Test from Manager"

// Diagnose walks through the connectivity checks for ep, handing each step to
// emit as soon as it completes. Step failures are reported only through emit;
// the returned error is non-nil only when ctx ends the run early.
func (c *Client) Diagnose(ctx context.Context, ep Endpoint, password string, emit func(events.Step)) error {
	addr := ep.Address()
	ok := func(name, details string) {
		emit(events.Step{Name: name, Status: events.StepSuccess, Details: details})
	}
	fail := func(name, details string) {
		emit(events.Step{Name: name, Status: events.StepFailure, Details: details})
	}

	ok(StepHostResolution, "Target address is "+addr)

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	conn, err := (&net.Dialer{}).DialContext(probeCtx, "tcp", addr)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			fail(StepRawTCP, "TCP connection timed out")
		} else {
			fail(StepRawTCP, fmt.Sprintf("TCP connection failed: %v", err))
		}
		return nil
	}
	_ = conn.Close()
	ok(StepRawTCP, "Successfully established raw TCP connection. Server is reachable.")

	if err := ctx.Err(); err != nil {
		return err
	}
	sess, err := c.dialer.Dial(ctx, addr, password)
	if err != nil {
		fail(StepRCONConnection, fmt.Sprintf("Connection/Authentication failed: %v", err))
		return nil
	}
	defer func() { _ = sess.Close() }()
	ok(StepTCPConnection, "Successfully established TCP connection")
	ok(StepAuthentication, "Authenticated successfully")

	if err := ctx.Err(); err != nil {
		return err
	}
	if resp, err := sess.Execute("saveworld"); err != nil {
		fail(StepSaveWorld, fmt.Sprintf("Command failed: %v", err))
	} else {
		ok(StepSaveWorld, "Successfully executed saveworld. Response:\n"+resp)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if resp, err := sess.Execute(broadcastTest); err != nil {
		fail(StepBroadcast, fmt.Sprintf("Command failed: %v", err))
	} else {
		ok(StepBroadcast, "Successfully sent broadcast. Response: "+resp)
	}

	ok(StepComplete, "RCON diagnostic completed successfully!")
	return nil
}
