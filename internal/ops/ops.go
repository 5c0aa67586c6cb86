// Package ops composes the SSH session, script generation, classification
// and the audit trail into the operations the CLI exposes. Every operation
// opens a fresh session, runs at most one exec, closes best-effort and
// records exactly one audit entry per attempted exec, connect failures
// included.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vmgate/internal/classify"
	"vmgate/internal/sshexec"
	"vmgate/internal/store"
	"vmgate/internal/trace"
	"vmgate/internal/vmware"
	"vmgate/pkg/hostfacts"
)

// MaxCommandLen bounds raw command text, checked before any network
// activity.
const MaxCommandLen = 8192

// runner is the slice of sshexec.Session the service needs; tests substitute
// a fake through the dial seam.
type runner interface {
	Exec(command string) (*sshexec.Result, error)
	Close() error
}

type dialFunc func(ctx context.Context, cfg sshexec.Config) (runner, error)

// Service owns the collaborators shared by all operations. Construct one per
// process in the composition root and pass it down; there is no package
// state.
type Service struct {
	Trace     *trace.Store
	Keys      *store.KeyStore
	Passwords *store.PasswordStore

	dial dialFunc
}

// NewService wires a service over the given audit trail and stores.
func NewService(tr *trace.Store, keys *store.KeyStore, passwords *store.PasswordStore) *Service {
	s := &Service{Trace: tr, Keys: keys, Passwords: passwords}
	s.dial = s.sshDial
	return s
}

// sshDial loads the stored key fresh for every connection; replaced keys
// take effect on the next operation.
func (s *Service) sshDial(ctx context.Context, cfg sshexec.Config) (runner, error) {
	signer, err := s.Keys.Signer()
	if err != nil {
		return nil, err
	}
	return sshexec.Connect(ctx, cfg, signer)
}

// VMStatus pairs a known VMX path with its observed run state.
type VMStatus struct {
	VMX     string
	Running bool
}

// run executes one script over a fresh session and classifies the result.
// The redacted command text, never the runnable one, goes into the audit
// trail.
func (s *Service) run(ctx context.Context, cfg sshexec.Config, action string, script vmware.Script, requestID string) (*sshexec.Result, error) {
	started := time.Now()
	record := func(res *sshexec.Result, err error) {
		e := trace.Entry{
			Action:     action,
			OK:         err == nil,
			DurationMs: time.Since(started).Milliseconds(),
			Command:    script.Redacted,
			RequestID:  requestID,
		}
		if res != nil {
			e.Output = res.Output
		}
		if err != nil {
			e.Error = err.Error()
		}
		s.Trace.Record(e)
	}

	sess, err := s.dial(ctx, cfg)
	if err != nil {
		record(nil, err)
		return nil, err
	}
	defer sess.Close()

	res, err := sess.Exec(script.Command)
	if err != nil {
		record(nil, err)
		return nil, err
	}
	err = classify.Outcome(res)
	record(res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Exec runs arbitrary command text on the remote host.
func (s *Service) Exec(ctx context.Context, cfg sshexec.Config, command, requestID string) (string, error) {
	if len(command) > MaxCommandLen {
		return "", fmt.Errorf("command too long: %d bytes (limit %d)", len(command), MaxCommandLen)
	}
	res, err := s.run(ctx, cfg, "ssh_exec", vmware.Script{Command: command, Redacted: command}, requestID)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// Dir runs a plain directory listing, useful as a connectivity sanity check.
func (s *Service) Dir(ctx context.Context, cfg sshexec.Config, requestID string) (string, error) {
	script := vmware.Script{Command: "dir", Redacted: "dir"}
	res, err := s.run(ctx, cfg, "ssh_dir", script, requestID)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// ListRunningVMs returns the VMX paths vmrun reports as running.
func (s *Service) ListRunningVMs(ctx context.Context, cfg sshexec.Config, requestID string) ([]string, error) {
	res, err := s.run(ctx, cfg, "vm_list", vmware.ListRunning(), requestID)
	if err != nil {
		return nil, err
	}
	return vmware.ParseRunList(res.Output), nil
}

// StatusForKnown reports the run state of each known VMX path, matched
// case-insensitively against the running list.
func (s *Service) StatusForKnown(ctx context.Context, cfg sshexec.Config, known []string, requestID string) ([]VMStatus, error) {
	running, err := s.ListRunningVMs(ctx, cfg, requestID)
	if err != nil {
		return nil, err
	}
	up := make(map[string]bool, len(running))
	for _, vmx := range running {
		up[store.NormalizeVMKey(vmx)] = true
	}
	statuses := make([]VMStatus, 0, len(known))
	for _, vmx := range known {
		statuses = append(statuses, VMStatus{VMX: vmx, Running: up[store.NormalizeVMKey(vmx)]})
	}
	return statuses, nil
}

// StartVM starts a VM with an explicit password; empty means none.
func (s *Service) StartVM(ctx context.Context, cfg sshexec.Config, vmxPath, password, requestID string) (string, error) {
	res, err := s.run(ctx, cfg, "vm_start", vmware.Start(vmxPath, password), requestID)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// StopVM stops a VM with an explicit password; empty means none.
func (s *Service) StopVM(ctx context.Context, cfg sshexec.Config, vmxPath string, mode vmware.StopMode, password, requestID string) (string, error) {
	res, err := s.run(ctx, cfg, "vm_stop", vmware.Stop(vmxPath, mode, password), requestID)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// StartVMAuto starts a VM consulting the password store: run with the stored
// password if one exists, otherwise without one, and translate the
// password-related failure into the matching sentinel.
func (s *Service) StartVMAuto(ctx context.Context, cfg sshexec.Config, vmxPath, requestID string) (string, error) {
	password, stored, err := s.Passwords.Get(vmxPath)
	if err != nil {
		return "", err
	}
	out, err := s.StartVM(ctx, cfg, vmxPath, password, requestID)
	return out, autoResult(err, stored)
}

// StopVMAuto is StartVMAuto's counterpart for stopping.
func (s *Service) StopVMAuto(ctx context.Context, cfg sshexec.Config, vmxPath string, mode vmware.StopMode, requestID string) (string, error) {
	password, stored, err := s.Passwords.Get(vmxPath)
	if err != nil {
		return "", err
	}
	out, err := s.StopVM(ctx, cfg, vmxPath, mode, password, requestID)
	return out, autoResult(err, stored)
}

// autoResult maps a failure from an auto operation onto the credential
// sentinels. With a stored password a rejection means the password is wrong;
// without one a password demand means one must be provided. Anything else is
// surfaced verbatim.
func autoResult(err error, stored bool) error {
	if err == nil {
		return nil
	}
	text := err.Error()
	if stored {
		if classify.PasswordRejected(text) {
			return ErrPasswordInvalid
		}
		return err
	}
	if classify.NeedsPassword(text) {
		return ErrPasswordRequired
	}
	return err
}

// ScanVMX discovers .vmx files under the given roots, or under the stock
// Workstation directories when none are given.
func (s *Service) ScanVMX(ctx context.Context, cfg sshexec.Config, roots []string, requestID string) ([]string, error) {
	var script vmware.Script
	if len(roots) == 0 {
		script = vmware.ScanDefault()
	} else {
		rootsJSON, err := json.Marshal(roots)
		if err != nil {
			return nil, fmt.Errorf("encode scan roots: %w", err)
		}
		script = vmware.Scan(string(rootsJSON))
	}
	res, err := s.run(ctx, cfg, "vm_scan", script, requestID)
	if err != nil {
		return nil, err
	}
	return vmware.ParseJSONStrings(res.Output)
}

// HostInfo gathers identity, OS and vmrun facts from the remote host.
func (s *Service) HostInfo(ctx context.Context, cfg sshexec.Config, requestID string) (hostfacts.Facts, error) {
	script := vmware.Encoded(hostfacts.Script())
	res, err := s.run(ctx, cfg, "host_info", script, requestID)
	if err != nil {
		return hostfacts.Facts{}, err
	}
	return hostfacts.Parse(res.Output), nil
}
