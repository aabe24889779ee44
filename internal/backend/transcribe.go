package backend

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/parleybot/parley/internal/proto"
	"github.com/parleybot/parley/internal/server"
)

// transcribeBackend shells out to a local speech-to-text binary
// (whisper-cli or compatible) for audio transcription. Keeping the
// model out of process avoids loading weights into the daemon.
type transcribeBackend struct {
	command   string
	modelPath string
}

// NewTranscribe creates the transcription backend. command is the
// binary to run; modelPath is passed via -m when non-empty.
func NewTranscribe(name, command, modelPath string, logger *slog.Logger) *Builtin {
	if command == "" {
		command = "whisper-cli"
	}
	be := &transcribeBackend{command: command, modelPath: modelPath}

	tools := []Tool{
		{
			Name:        "transcribe_file",
			Description: "Transcribe an audio file (wav) to text",
			InputSchema: objectSchema(map[string]any{
				"path":     prop("string", "Path to the audio file"),
				"language": prop("string", "Spoken language hint (e.g. \"en\"); auto-detected when omitted"),
			}, "path"),
			Handler: be.transcribeFile,
		},
	}

	resources := []server.ResourceDescriptor{
		{Pattern: "audio://transcripts", Description: "Transcripts produced this session"},
	}

	return newBuiltin(name, logger, tools, resources, nil)
}

func (be *transcribeBackend) transcribeFile(ctx context.Context, args map[string]any) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	language, err := optionalStringArg(args, "language", "")
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, proto.NewError(proto.KindArgument, "audio file %q does not exist", path)
		}
		return nil, proto.WrapError(proto.KindExecution, err, "stat audio file")
	}

	cmdArgs := []string{"--no-timestamps", "-f", path}
	if be.modelPath != "" {
		cmdArgs = append(cmdArgs, "-m", be.modelPath)
	}
	if language != "" {
		cmdArgs = append(cmdArgs, "-l", language)
	}

	cmd := exec.CommandContext(ctx, be.command, cmdArgs...)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, proto.WrapError(proto.KindCancelled, ctx.Err(), "transcription interrupted")
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, proto.NewError(proto.KindExecution, "transcriber failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		// Binary missing or not executable: the backend is unreachable,
		// not the tool's arguments.
		return nil, proto.WrapError(proto.KindConnection, err, "run transcriber")
	}

	return map[string]any{
		"path": path,
		"text": strings.TrimSpace(string(out)),
	}, nil
}
