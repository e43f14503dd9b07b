package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RobotProfile describes the joint ordering conventions of one robot model.
// When no profile file is configured the built-in G1 orders are used.
type RobotProfile struct {
	Name                 string   `yaml:"name"`
	GeneratorJointOrder  []string `yaml:"generator_joint_order"`
	ControllerJointOrder []string `yaml:"controller_joint_order"`
}

// ReadRobotProfile executes the readRobotProfile function.
func ReadRobotProfile(path string) (RobotProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RobotProfile{}, err
	}
	var profile RobotProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return RobotProfile{}, fmt.Errorf("parse robot profile %s: %w", path, err)
	}
	if err := validateProfile(profile); err != nil {
		return RobotProfile{}, fmt.Errorf("robot profile %s: %w", path, err)
	}
	return profile, nil
}

func validateProfile(profile RobotProfile) error {
	if len(profile.GeneratorJointOrder) == 0 || len(profile.ControllerJointOrder) == 0 {
		return errors.New("generator_joint_order and controller_joint_order are required")
	}
	if len(profile.GeneratorJointOrder) != len(profile.ControllerJointOrder) {
		return fmt.Errorf("joint order length mismatch: generator=%d controller=%d",
			len(profile.GeneratorJointOrder), len(profile.ControllerJointOrder))
	}
	seen := make(map[string]struct{}, len(profile.GeneratorJointOrder))
	for _, name := range profile.GeneratorJointOrder {
		if name == "" {
			return errors.New("empty joint name in generator_joint_order")
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate joint name %q in generator_joint_order", name)
		}
		seen[name] = struct{}{}
	}
	for _, name := range profile.ControllerJointOrder {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("controller joint %q not present in generator_joint_order", name)
		}
	}
	return nil
}
