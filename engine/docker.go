package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap/zapcore"
)

// DockerConfig configures the docker engine
type DockerConfig struct {
	Image            string
	Command          string
	Envs             []string
	RegistryServer   string // "https://europe-west1-docker.pkg.dev" for gcs for example
	RegistryUserName string
	RegistryPassword string
	VolumesToMount   string // List of volumes to mount (comma separated)
}

// SetFlags configures flag for a docker config
// Returns dockerEnvs as string, comma sep.
func (cfg *DockerConfig) SetFlags() *string {
	flag.StringVar(&cfg.RegistryUserName, "docker-registry-username", "", "username to authentication on private registry")
	flag.StringVar(&cfg.RegistryPassword, "docker-registry-password", "", "password to authentication on private registry")
	flag.StringVar(&cfg.RegistryServer, "docker-registry-server", "", "address of server to authenticate on private registry")
	flag.StringVar(&cfg.VolumesToMount, "docker-mount-volumes", "", "list of volumes to mount on the docker (comma separated)")

	return flag.String("docker-envs", "", "environment variables passed to the engine container (comma sep, KEY=VALUE)")
}

// DockerEngine runs the engine in a docker container
type DockerEngine struct {
	client         *client.Client
	image          string
	command        string
	envs           []string
	volumesToMount []string
	authConfig     string //encode base64
}

// NewDockerEngine connects to the docker daemon
func NewDockerEngine(ctx context.Context, config DockerConfig) (*DockerEngine, error) {
	if config.Image == "" {
		return nil, service.MakeConfigurationError(fmt.Errorf("NewDockerEngine: image is not defined"))
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("NewDockerEngine: failed to create new docker client: %w", err)
	}

	var encodedAuthLogin string
	if config.RegistryUserName != "" && config.RegistryPassword != "" && config.RegistryServer != "" {
		log.Logger(ctx).Info("register to container registry...")
		auth := registry.AuthConfig{
			Username:      config.RegistryUserName,
			Password:      config.RegistryPassword,
			ServerAddress: config.RegistryServer,
		}
		bAuth, err := json.Marshal(&auth)
		if err != nil {
			return nil, fmt.Errorf("NewDockerEngine: %w", err)
		}
		encodedAuthLogin = base64.URLEncoding.EncodeToString(bAuth)
	}

	d := DockerEngine{
		client:     cli,
		image:      config.Image,
		command:    config.Command,
		envs:       config.Envs,
		authConfig: encodedAuthLogin,
	}
	if len(config.VolumesToMount) > 0 {
		d.volumesToMount = strings.Split(config.VolumesToMount, ",")
	}

	if err := d.Ping(ctx, 5*time.Minute); err != nil {
		return nil, fmt.Errorf("NewDockerEngine: %w", err)
	}
	return &d, nil
}

// Ping waits for the docker daemon
func (d *DockerEngine) Ping(ctx context.Context, timeout time.Duration) error {
	var err error
	ctx, cnl := context.WithTimeout(ctx, timeout)
	defer cnl()
	for {
		if _, err = d.client.Ping(ctx); err == nil {
			return nil
		}
		log.Logger(ctx).Info("Waiting for docker daemon...")
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to found docker daemon: %w", err)
		case <-time.After(5 * time.Second):
		}
	}
}

// RunTile implements Engine
func (d *DockerEngine) RunTile(ctx context.Context, req Request) (Status, error) {
	imageInfo, err := d.localImageInfo(ctx, d.image)
	if err != nil {
		log.Logger(ctx).Info("pulling image " + d.image)
		if imageInfo, err = d.pullImage(ctx, d.image); err != nil {
			return Failure(-1), fmt.Errorf("DockerEngine.RunTile: %w", err)
		}
	}

	mounts := []mount.Mount{}
	for _, dir := range service.NewStringSet(absDir(req.OutDir), absDir(filepath.Dir(req.ConfigPath))).Slice() {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: dir, Target: dir})
	}
	for _, volume := range d.volumesToMount {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: volume, Target: volume, ReadOnly: true})
	}

	var cmd []string
	if d.command != "" {
		cmd = append(cmd, d.command)
	}
	containerConfig := &container.Config{
		Image:        imageInfo.ID,
		Cmd:          append(cmd, req.Args()...),
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   absDir(req.OutDir),
		Env:          d.envs,
	}
	hostConfig := &container.HostConfig{Mounts: mounts}

	created, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return Failure(-1), fmt.Errorf("DockerEngine.RunTile: failed to create container: %w", err)
	}
	defer func() {
		// Use a fresh context: ctx may be cancelled
		cctx, cncl := context.WithTimeout(context.Background(), time.Minute)
		defer cncl()
		if err := d.client.ContainerStop(cctx, created.ID, container.StopOptions{}); err != nil {
			log.Logger(ctx).Sugar().Warnf("failed to stop container: %s", created.ID)
		}
		if err := d.client.ContainerRemove(cctx, created.ID, container.RemoveOptions{}); err != nil {
			log.Logger(ctx).Sugar().Warnf("failed to remove container: %s", created.ID)
		}
	}()

	filter := &LogFilter{}
	code, err := d.runContainer(ctx, created.ID, filter)
	if err != nil {
		return Failure(code), filter.WrapError(fmt.Errorf("DockerEngine.RunTile[%s]: %w", req.Tile, err))
	}
	return StatusFromCode(code), nil
}

func absDir(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func (d *DockerEngine) pullImage(ctx context.Context, ref string) (image.Summary, error) {
	rc, err := d.client.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: d.authConfig})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			err = service.MakeTemporary(err)
		}
		return image.Summary{}, fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		log.Logger(ctx).Sugar().Errorf("failed to read image pull information: %v", err)
	}
	return d.localImageInfo(ctx, ref)
}

func (d *DockerEngine) localImageInfo(ctx context.Context, ref string) (image.Summary, error) {
	filter := filters.NewArgs()
	filter.Add("reference", ref)
	images, err := d.client.ImageList(ctx, image.ListOptions{Filters: filter})
	if err != nil {
		return image.Summary{}, service.MakeTemporary(fmt.Errorf("failed to list image %s: %w", ref, err))
	}
	if len(images) < 1 {
		return image.Summary{}, service.MakeTemporary(fmt.Errorf("not found: %s", ref))
	}
	return images[0], nil
}

func (d *DockerEngine) runContainer(ctx context.Context, containerID string, filter *LogFilter) (int, error) {
	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("failed to start container: %w", err)
	}

	logs, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to retrieve logs: %w", err)
	}

	// The stream is multiplexed
	outr, outw := io.Pipe()
	errr, errw := io.Pipe()
	logwg := sync.WaitGroup{}
	logwg.Add(3)
	go func() {
		defer logwg.Done()
		defer logs.Close()
		_, err := stdcopy.StdCopy(outw, errw, logs)
		outw.CloseWithError(err)
		errw.CloseWithError(err)
	}()
	go func() {
		defer logwg.Done()
		log.LogLines(outr, log.LinePrinter(ctx, zapcore.DebugLevel, filter))
	}()
	go func() {
		defer logwg.Done()
		log.LogLines(errr, log.LinePrinter(ctx, zapcore.WarnLevel, filter))
	}()
	logwg.Wait()

	statusCh, errCh := d.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case exit := <-statusCh:
		if exit.Error != nil {
			return -1, fmt.Errorf("wait container: %s", exit.Error.Message)
		}
		return int(exit.StatusCode), nil
	}
}
