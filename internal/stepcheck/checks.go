package stepcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileExists passes when path exists.
func FileExists(path string) Predicate {
	return func(context.Context) (bool, error) {
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("stat %s: %w", path, err)
		}
		return true, nil
	}
}

// FileContains passes when the file at path matches the regular
// expression pattern. A missing file fails the check rather than erroring.
func FileContains(path, pattern string) (Predicate, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	return func(context.Context) (bool, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("read %s: %w", path, err)
		}
		return re.Match(data), nil
	}, nil
}

// CommandSucceeds passes when command, run through sh -c, exits 0.
// A non-zero exit fails the check; failing to start it is an error.
func CommandSucceeds(command string) Predicate {
	return func(ctx context.Context) (bool, error) {
		return run(ctx, "sh", "-c", command)
	}
}

// ImageExists passes when the local container runtime has image.
func ImageExists(image string) Predicate {
	return func(ctx context.Context) (bool, error) {
		return run(ctx, "docker", "image", "inspect", image)
	}
}

// SyntaxValid passes when the file parses as the format its extension
// names: .yaml/.yml, .json or .toml.
func SyntaxValid(path string) Predicate {
	return func(context.Context) (bool, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("read %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			var v any
			return yaml.Unmarshal(data, &v) == nil, nil
		case ".json":
			return json.Valid(data), nil
		case ".toml":
			var v map[string]any
			_, err := toml.Decode(string(data), &v)
			return err == nil, nil
		default:
			return false, fmt.Errorf("no syntax check for %q files", filepath.Ext(path))
		}
	}
}

func run(ctx context.Context, name string, args ...string) (bool, error) {
	err := exec.CommandContext(ctx, name, args...).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("run %s: %w", name, err)
}
