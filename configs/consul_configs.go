package configs

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/consul/api"
)

// RegisterService registers the HTTP endpoint with Consul and returns a
// function that deregisters it.
func RegisterService(cfg Config) (func() error, error) {
	_, portStr, err := net.SplitHostPort(cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("parse http addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse http port: %w", err)
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.ConsulAddress
	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}

	serviceID := fmt.Sprintf("%s-%s-%d", cfg.ServiceName, cfg.AdvertiseHost, port)
	registration := &api.AgentServiceRegistration{
		ID:      serviceID,
		Name:    cfg.ServiceName,
		Address: cfg.AdvertiseHost,
		Port:    port,
		Check: &api.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://%s:%d/health", cfg.AdvertiseHost, port),
			Interval: "10s",
			Timeout:  "2s",
		},
	}
	if err := client.Agent().ServiceRegister(registration); err != nil {
		return nil, fmt.Errorf("failed to register service with Consul: %w", err)
	}
	return func() error {
		return client.Agent().ServiceDeregister(serviceID)
	}, nil
}
