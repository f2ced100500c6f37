package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	apperrors "github.com/koopa0/code-battle/pkg/errors"
)

// DockerSandbox 一次性容器沙箱
//
// 系統設計考量：
//
//  1. 一次性：每個測資一個全新容器，成功、失敗、錯誤都銷毀。
//     容器與暫存原始碼在每條退出路徑上都被清掉，
//     資源絕不跨提交、跨測資洩漏
//
//  2. 隔離策略：
//     - NetworkMode=none + NetworkDisabled：無網路
//     - Memory / NanoCPUs / PidsLimit：記憶體、CPU、行程數硬上限
//     - User=nobody：非 root、無特權身分
//     - 原始碼唯讀掛載：容器內不可改寫提交內容
//
//  3. 超時處理：
//     牆鐘超時到就強制砍掉容器，回報 ErrSandboxTimeout；
//     清理一律用背景 context——呼叫端的取消不能阻止資源回收
type DockerSandbox struct {
	cli    *client.Client
	policy ExecPolicy
	logger *slog.Logger
}

// NewDockerSandbox 創建 Docker 沙箱
func NewDockerSandbox(policy ExecPolicy, logger *slog.Logger) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerSandbox{cli: cli, policy: policy, logger: logger}, nil
}

// EnsureImage 預拉執行環境映像（啟動時呼叫一次，避免首次判題吃冷啟動）
func (s *DockerSandbox) EnsureImage(ctx context.Context) error {
	rc, err := s.cli.ImagePull(ctx, s.policy.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", s.policy.Image, err)
	}
	defer rc.Close()

	// 讀完串流才算拉完
	_, err = io.Copy(io.Discard, rc)
	return err
}

// Close 釋放 Docker 客戶端
func (s *DockerSandbox) Close() error {
	return s.cli.Close()
}

// RunCase 在一次性沙箱內執行一份 harness，回傳標準輸出
func (s *DockerSandbox) RunCase(ctx context.Context, source string) (string, error) {
	// 暫存原始碼：任何退出路徑都會移除
	dir, err := os.MkdirTemp("", "judge-*")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeSandboxExecution, "failed to create workspace")
	}
	defer os.RemoveAll(dir)

	sourcePath := filepath.Join(dir, "main.py")
	if err := os.WriteFile(sourcePath, []byte(source), 0o644); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeSandboxExecution, "failed to write source")
	}

	containerID, err := s.createContainer(ctx, dir)
	if err != nil {
		return "", err
	}
	// 容器移除是無條件的：成功、超時、錯誤都走這裡，
	// 且用背景 context——呼叫端取消不能阻止回收
	defer s.removeContainer(containerID)

	if err := s.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeSandboxExecution, "failed to start sandbox")
	}

	exitCode, err := s.waitForExit(ctx, containerID)
	if err != nil {
		return "", err
	}

	stdout, stderr, err := s.collectOutput(containerID)
	if err != nil {
		return "", err
	}

	if exitCode != 0 {
		msg := stderr
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", exitCode)
		}
		return "", apperrors.ErrSandboxExecution.WithDetails(msg)
	}
	return stdout, nil
}

// createContainer 創建資源受限、無網路、非特權的容器
func (s *DockerSandbox) createContainer(ctx context.Context, workDir string) (string, error) {
	pids := s.policy.PidsLimit

	resp, err := s.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           s.policy.Image,
			Cmd:             []string{"python", "/sandbox/main.py"},
			User:            "nobody",
			WorkingDir:      "/sandbox",
			NetworkDisabled: true,
		},
		&container.HostConfig{
			NetworkMode: "none",
			Binds:       []string{workDir + ":/sandbox:ro"},
			Resources: container.Resources{
				Memory:    s.policy.MemoryBytes,
				NanoCPUs:  s.policy.NanoCPUs,
				PidsLimit: &pids,
			},
		},
		nil, nil, "")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeSandboxExecution, "failed to create sandbox")
	}
	return resp.ID, nil
}

// waitForExit 等待容器結束，超時就強制終止
func (s *DockerSandbox) waitForExit(ctx context.Context, containerID string) (int64, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.policy.CaseTimeout)
	defer cancel()

	statusCh, errCh := s.cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)

	select {
	case status := <-statusCh:
		if status.Error != nil {
			return 0, apperrors.ErrSandboxExecution.WithDetails(status.Error.Message)
		}
		return status.StatusCode, nil

	case err := <-errCh:
		if errors.Is(err, context.DeadlineExceeded) || waitCtx.Err() != nil {
			s.killContainer(containerID)
			return 0, apperrors.ErrSandboxTimeout.WithDetails(
				fmt.Sprintf("exceeded %s wall clock limit", s.policy.CaseTimeout))
		}
		return 0, apperrors.Wrap(err, apperrors.ErrCodeSandboxExecution, "failed waiting for sandbox")
	}
}

// collectOutput 讀取容器輸出並解多工為 stdout / stderr
func (s *DockerSandbox) collectOutput(containerID string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rc, err := s.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", apperrors.Wrap(err, apperrors.ErrCodeSandboxExecution, "failed to read sandbox output")
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", apperrors.Wrap(err, apperrors.ErrCodeSandboxExecution, "failed to demux sandbox output")
	}
	return stdout.String(), stderr.String(), nil
}

// killContainer 強制終止容器
func (s *DockerSandbox) killContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.cli.ContainerKill(ctx, containerID, "KILL"); err != nil {
		s.logger.Warn("終止沙箱失敗", "container_id", containerID, "error", err)
	}
}

// removeContainer 移除容器（背景 context，不受呼叫端取消影響）
func (s *DockerSandbox) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		s.logger.Warn("移除沙箱失敗", "container_id", containerID, "error", err)
	}
}
