package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"node-reporter/internal/model"
)

type fileConfig struct {
	Prometheus struct {
		URL         string        `yaml:"url"`
		Token       string        `yaml:"token"`
		Timeout     time.Duration `yaml:"timeout"`
		Concurrency int           `yaml:"concurrency"`
	} `yaml:"prometheus"`
	Queries map[string]string `yaml:"queries"`
	Labels  struct {
		Instance   string `yaml:"instance"`
		Name       string `yaml:"name"`
		Mountpoint string `yaml:"mountpoint"`
		FSType     string `yaml:"fstype"`
	} `yaml:"labels"`
	FSTypeDenylist *[]string `yaml:"fstype_denylist"`
	Reports        struct {
		Dir        string `yaml:"dir"`
		Summary    *bool  `yaml:"summary"`
		Thresholds struct {
			CPU    *float64 `yaml:"cpu_free"`
			Memory *float64 `yaml:"mem_free"`
			Disk   *float64 `yaml:"disk_free"`
		} `yaml:"thresholds"`
	} `yaml:"reports"`
	Sink struct {
		Mode       string        `yaml:"mode"`
		GRPCAddr   string        `yaml:"grpc_addr"`
		GRPCMethod string        `yaml:"grpc_method"`
		WSURL      string        `yaml:"ws_url"`
		Token      string        `yaml:"token"`
		Timeout    time.Duration `yaml:"timeout"`
		TLS        *bool         `yaml:"tls"`
	} `yaml:"sink"`
	MetricsTextfile string `yaml:"metrics_textfile"`
	Log             struct {
		Level string `yaml:"level"`
		JSON  *bool  `yaml:"json"`
	} `yaml:"log"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}

	setString(&c.PrometheusURL, fc.Prometheus.URL)
	setString(&c.PrometheusToken, fc.Prometheus.Token)
	if fc.Prometheus.Timeout > 0 {
		c.QueryTimeout = fc.Prometheus.Timeout
	}
	if fc.Prometheus.Concurrency > 0 {
		c.QueryConcurrency = fc.Prometheus.Concurrency
	}
	for name, q := range fc.Queries {
		f, err := model.ParseFamily(name)
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		if q = strings.TrimSpace(q); q != "" {
			c.Queries[f] = q
		}
	}
	setString(&c.InstanceLabel, fc.Labels.Instance)
	setString(&c.NameLabel, fc.Labels.Name)
	setString(&c.MountpointLabel, fc.Labels.Mountpoint)
	setString(&c.FSTypeLabel, fc.Labels.FSType)
	if fc.FSTypeDenylist != nil {
		c.FSTypeDenylist = append([]string{}, (*fc.FSTypeDenylist)...)
	}
	setString(&c.ReportsDir, fc.Reports.Dir)
	if fc.Reports.Summary != nil {
		c.Summary = *fc.Reports.Summary
	}
	if v := fc.Reports.Thresholds.CPU; v != nil {
		c.CPUFreeThreshold = *v
	}
	if v := fc.Reports.Thresholds.Memory; v != nil {
		c.MemFreeThreshold = *v
	}
	if v := fc.Reports.Thresholds.Disk; v != nil {
		c.DiskFreeThreshold = *v
	}
	if fc.Sink.Mode != "" {
		c.SinkMode = SinkMode(strings.ToLower(fc.Sink.Mode))
	}
	setString(&c.SinkGRPCAddr, fc.Sink.GRPCAddr)
	setString(&c.SinkGRPCMethod, fc.Sink.GRPCMethod)
	setString(&c.SinkWSURL, fc.Sink.WSURL)
	setString(&c.SinkToken, fc.Sink.Token)
	if fc.Sink.Timeout > 0 {
		c.SinkTimeout = fc.Sink.Timeout
	}
	if fc.Sink.TLS != nil {
		c.SinkTLS = *fc.Sink.TLS
	}
	setString(&c.MetricsTextfile, fc.MetricsTextfile)
	if fc.Log.Level != "" {
		c.LogLevel = strings.ToLower(fc.Log.Level)
	}
	if fc.Log.JSON != nil {
		c.LogJSON = *fc.Log.JSON
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
