// Package inventory 读取批量执行的设备清单文件（YAML）
package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sshcollectorpro/netsession/internal/service"
)

// File 清单文件结构；defaults 中的字段补齐到每台设备
type File struct {
	TaskID      string              `yaml:"task_id"`
	Mode        string              `yaml:"mode"`
	Concurrency int                 `yaml:"concurrency"`
	Retries     *int                `yaml:"retries"`
	Archive     *bool               `yaml:"archive"`
	Defaults    service.DeviceJob   `yaml:"defaults"`
	Devices     []service.DeviceJob `yaml:"devices"`
}

// Load 读取清单文件并转换为批量请求
func Load(path string) (*service.BatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	req, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}

// Parse 解析清单内容。密码类字段支持 ${ENV} 展开。
func Parse(data []byte) (*service.BatchRequest, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}
	if len(f.Devices) == 0 {
		return nil, errors.New("inventory has no devices")
	}

	req := &service.BatchRequest{
		TaskID:      f.TaskID,
		Source:      "cli",
		Mode:        f.Mode,
		Concurrency: f.Concurrency,
		Retries:     f.Retries,
		Archive:     f.Archive,
		Devices:     make([]service.DeviceJob, 0, len(f.Devices)),
	}
	for i, d := range f.Devices {
		job := merge(d, f.Defaults)
		if strings.TrimSpace(job.Address) == "" {
			return nil, fmt.Errorf("devices[%d]: address is required", i)
		}
		if strings.TrimSpace(job.DeviceType) == "" {
			return nil, fmt.Errorf("devices[%d] %s: device_type is required", i, job.Address)
		}
		req.Devices = append(req.Devices, job)
	}
	return req, nil
}

func merge(d, def service.DeviceJob) service.DeviceJob {
	d.Username = pick(d.Username, def.Username)
	d.Password = os.ExpandEnv(pick(d.Password, def.Password))
	d.Secret = os.ExpandEnv(pick(d.Secret, def.Secret))
	d.DeviceType = pick(d.DeviceType, def.DeviceType)
	d.Template = pick(d.Template, def.Template)
	if len(d.Commands) == 0 {
		d.Commands = append([]string(nil), def.Commands...)
	}
	d.Enable = d.Enable || def.Enable
	d.Structured = d.Structured || def.Structured
	if d.Timeout == 0 {
		d.Timeout = def.Timeout
	}
	if d.UsesUsername == nil {
		d.UsesUsername = def.UsesUsername
	}
	if d.Port == 0 {
		d.Port = def.Port
	}
	return d
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
