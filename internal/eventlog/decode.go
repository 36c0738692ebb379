package eventlog

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/northpolesec/santa-sub009/internal/target"
)

// Unmarshal decodes a Record previously produced by Marshal. Unknown
// field numbers are skipped (forward compatibility); any field absent
// from the wire data decodes as Go's zero value (backward compatibility),
// per spec §6.3.
func Unmarshal(data []byte) (Record, error) {
	var r Record
	var argv []string
	env := make(map[string]struct{})

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Record{}, fmt.Errorf("eventlog: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Record{}, fmt.Errorf("eventlog: bad varint: %w", protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case fieldTimestampUnixNano:
				r.TimestampUnixNano = int64(v)
			case fieldEventKind:
				r.Kind = EventKind(v)
			case fieldOutcome:
				r.Decision.Outcome = target.Outcome(v)
			case fieldExecutingUID:
				r.Target.ExecutingUID = int(int64(v))
			case fieldPID:
				r.Target.PID = int(int64(v))
			case fieldPPID:
				r.Target.PPID = int(int64(v))
			}

		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Record{}, fmt.Errorf("eventlog: bad bytes: %w", protowire.ParseError(n))
			}
			data = data[n:]
			s := string(v)
			switch num {
			case fieldFileSHA256:
				r.Target.FileSHA256 = s
			case fieldCDHash:
				r.Target.CDHash = s
			case fieldSigningID:
				r.Target.SigningID = s
			case fieldTeamID:
				r.Target.TeamID = s
			case fieldCertSHA256Leaf:
				r.Target.CertSHA256Chain = []string{s}
			case fieldMatchedRuleKind:
				r.Decision.MatchedRuleKind = s
			case fieldReason:
				r.Decision.Reason = target.Reason(s)
			case fieldArgv:
				argv = append(argv, s)
			case fieldEnvKey:
				env[s] = struct{}{}
			case fieldParentName:
				r.Target.ParentName = s
			case fieldMachineID:
				r.MachineID = s
			case fieldPath:
				r.Target.Path = s
			case fieldWatchItemName:
				r.WatchItemName = s
			case fieldPolicyVersion:
				r.PolicyVersion = s
			case fieldAccessedPath:
				r.AccessedPath = s
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Record{}, fmt.Errorf("eventlog: bad field: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	r.Target.Argv = argv
	if len(env) > 0 {
		r.Target.Env = make(map[string]string, len(env))
		for k := range env {
			r.Target.Env[k] = ""
		}
	}
	return r, nil
}
