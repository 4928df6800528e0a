package vcmon

import "time"

const DefaultReadDeadline = 1 * time.Second

type Instrument struct {
	RecordTime func(command string, elapsed time.Duration)
}

// Exchange runs one request/response round trip: it drops stale input,
// sends the frame and collects lines until the command's response is
// complete or the deadline expires. An empty result without error means the
// device did not answer. Callers must not run two exchanges on the same
// transport concurrently.
func Exchange(t Transport, cmd Command, deadline time.Duration, instrument ...Instrument) ([]string, error) {
	defer RecordTimer(cmd.Name, instrument)()

	if !t.State().IsOpen() {
		return nil, ErrNotConnected
	}
	if err := t.ResetInputBuffer(); err != nil {
		return nil, err
	}
	if err := t.Send(Encode(cmd)); err != nil {
		return nil, err
	}
	if !cmd.ExpectsResponse() {
		return nil, nil
	}

	var lines []string
	end := time.Now().Add(deadline)
	for {
		remaining := time.Until(end)
		if remaining <= 0 {
			break
		}
		line, ok, err := t.ReceiveLine(remaining)
		if err != nil {
			return lines, err
		}
		if !ok {
			break
		}
		lines = append(lines, line)
		if cmd.Complete(lines) {
			t.MarkResponse(true)
			return lines, nil
		}
	}
	t.MarkResponse(false)
	return lines, nil
}

func RecordTimer(name string, instrument []Instrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, elapsed)
		}
	}
}
