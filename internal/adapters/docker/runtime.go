package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// maxStreamSize caps the captured stdout and stderr of a container.
const maxStreamSize = 1 << 20

// containerSpec describes a container to create.
type containerSpec struct {
	Name       string
	Image      string
	Command    string
	Env        map[string]string
	Labels     map[string]string
	ExtraHosts []string
	NanoCPUs   int64
	MemoryMB   int64
}

// Runtime is the subset of the container engine the adapter drives.
type Runtime interface {
	EnsureImage(ctx context.Context, ref string) error
	Create(ctx context.Context, spec containerSpec) (string, error)
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (int, error)
	Logs(ctx context.Context, id string) (stdout, stderr string, err error)
	Remove(ctx context.Context, id string)
	Running(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// daemon implements Runtime against a Docker daemon.
type daemon struct {
	client *client.Client
}

func newDaemon() (*daemon, error) {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &daemon{client: c}, nil
}

func (d *daemon) EnsureImage(ctx context.Context, ref string) error {
	if _, err := d.client.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *daemon) Create(ctx context.Context, spec containerSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	var cmd []string
	if spec.Command != "" {
		cmd = []string{"/bin/sh", "-c", spec.Command}
	}

	containerConfig := &container.Config{
		Image:  spec.Image,
		Cmd:    cmd,
		Env:    env,
		Labels: spec.Labels,
	}
	hostConfig := &container.HostConfig{
		ExtraHosts: spec.ExtraHosts,
		Resources: container.Resources{
			NanoCPUs: spec.NanoCPUs,
			Memory:   spec.MemoryMB * 1024 * 1024,
		},
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *daemon) Start(ctx context.Context, id string) error {
	return d.client.ContainerStart(ctx, id, container.StartOptions{})
}

func (d *daemon) Wait(ctx context.Context, id string) (int, error) {
	statusCh, errCh := d.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (d *daemon) Logs(ctx context.Context, id string) (string, string, error) {
	logs, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer logs.Close()

	stdout := &cappedBuffer{limit: maxStreamSize}
	stderr := &cappedBuffer{limit: maxStreamSize}
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		return stdout.String(), stderr.String(), err
	}
	return stdout.String(), stderr.String(), nil
}

func (d *daemon) Remove(ctx context.Context, id string) {
	if id == "" {
		return
	}
	stopTimeout := 5
	_ = d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &stopTimeout})
	_ = d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

// Running lists the IDs of containers this venue created.
func (d *daemon) Running(ctx context.Context) ([]string, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", managedByLabel+"="+managedByValue)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (d *daemon) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

func (d *daemon) Close() error {
	return d.client.Close()
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
