package agent

import (
	"context"
	"os/exec"

	"github.com/wreckit/wreckit/internal/config"
	"github.com/wreckit/wreckit/internal/wreckerr"
)

// SpriteBackend additionally synchronizes the project into a sandboxed VM
// before running and proxies standard tools through a remote-execution
// primitive. From the phase runner's perspective the contract is identical
// to ProcessBackend, which is why it decorates one rather than duplicating
// its stream/timeout/escalation handling.
type SpriteBackend struct {
	inner *ProcessBackend
}

func (b *SpriteBackend) Run(ctx context.Context, cfg config.AgentConfig, opts Options) (Result, error) {
	if cfg.SpriteHost == "" {
		return Result{}, wreckerr.New(wreckerr.KindConfigError, "sprite backend requires sprite_host")
	}

	if opts.DryRun {
		return runDryRun(cfg, opts), nil
	}

	if err := rsyncToSprite(ctx, opts.Cwd, cfg.SpriteHost); err != nil {
		return Result{}, wreckerr.Wrap(err, wreckerr.KindTimeout, "sync project into sprite sandbox")
	}

	remoteCommand := cfg.Command
	if remoteCommand == "" {
		remoteCommand = "claude"
	}

	remoteCfg := cfg
	remoteCfg.Command = "ssh"
	remoteCfg.CommandArgs = []string{cfg.SpriteHost, "cd", opts.Cwd, "&&", remoteCommand}
	remoteCfg.CommandArgs = append(remoteCfg.CommandArgs, cfg.CommandArgs...)

	return b.inner.Run(ctx, remoteCfg, opts)
}

// rsyncToSprite synchronizes the local project directory into the remote
// sandbox before the run starts.
func rsyncToSprite(ctx context.Context, cwd, host string) error {
	cmd := exec.CommandContext(ctx, "rsync", "-az", "--delete", cwd+"/", host+":"+cwd+"/")
	return cmd.Run()
}
