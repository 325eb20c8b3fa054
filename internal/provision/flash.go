package provision

import (
	"context"
	"log/slog"
	"os/exec"

	"github.com/pkg/errors"
)

// Flasher performs the long-running SSD/SPI flash of the IMC. The actual
// flashing is an external vendor procedure.
type Flasher interface {
	Flash(ctx context.Context, imcAddress, version string) error
}

const defaultFlashTool = "dpu-tools"

// ExecFlasher shells out to the vendor flash tooling on the provisioning
// host.
type ExecFlasher struct {
	tool string
}

func NewExecFlasher(tool string) *ExecFlasher {
	if tool == "" {
		tool = defaultFlashTool
	}

	return &ExecFlasher{tool: tool}
}

func (f *ExecFlasher) Flash(ctx context.Context, imcAddress, version string) error {
	// nolint:gosec // arguments come from operator configuration.
	cmd := exec.CommandContext(ctx, f.tool,
		"--dpu-type", "ipu",
		"--imc-address", imcAddress,
		"firmware", "up",
		"--version", version,
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "flash tooling failed: %s", string(out))
	}

	slog.Debug("flash tooling finished", "output", string(out))

	return nil
}
