package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"runtime"

	"github.com/eatd/vl-desktop-agent/internal/vision"
)

// ExecGrabber runs a screenshot command that writes a PNG or JPEG to stdout.
type ExecGrabber struct {
	Command []string
}

func NewExecGrabber(command []string) (*ExecGrabber, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &ExecGrabber{Command: command}, nil
}

func (g *ExecGrabber) Grab(ctx context.Context) (image.Image, error) {
	cmd := exec.CommandContext(ctx, g.Command[0], g.Command[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", g.Command[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("run %s: no image data", g.Command[0])
	}
	return vision.Decode(bytes.NewReader(out))
}

// DefaultCommand picks a screenshot tool for the current platform.
func DefaultCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"screencapture", "-x", "-t", "png", "/dev/stdout"}
	case "linux":
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			return []string{"grim", "-t", "png", "-"}
		}
		return []string{"import", "-window", "root", "png:-"}
	case "windows":
		return []string{"ffmpeg", "-loglevel", "error", "-f", "gdigrab", "-i", "desktop",
			"-frames:v", "1", "-f", "image2pipe", "-vcodec", "png", "-"}
	}
	return nil
}

// StaticGrabber replays a fixed image, for demos and dry runs without a display.
type StaticGrabber struct {
	Image image.Image
}

func NewStaticGrabber(path string) (*StaticGrabber, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()
	img, err := vision.Decode(f)
	if err != nil {
		return nil, err
	}
	return &StaticGrabber{Image: img}, nil
}

func (g *StaticGrabber) Grab(context.Context) (image.Image, error) {
	return g.Image, nil
}
