// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/lowRISC/barnacle-riot/src/version/buildver"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

func PrintVersion(exit bool) string {
	ver := buildver.FormattedStr()
	if exit {
		fmt.Println(ver)
		os.Exit(0)
	}
	log.Print(ver)
	return ver
}

func GetCurrentTimestamp() string {
	currentTime := time.Now()
	timestamp := currentTime.Format("20060102_150405")
	milliseconds := currentTime.UnixNano() / int64(time.Millisecond) % 1000
	return fmt.Sprintf("%s_%03d", timestamp, milliseconds)
}

// ReadFile reads data from file.
// If succeed, ReadFile returns the data of the file as byte array;
// otherwise ReadFile returns an error.
func ReadFile(filename string) ([]byte, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %q, error: %v",
			filename, err)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func ReadFileFromDir(configDir, filename string) ([]byte, error) {
	absPath := filepath.Join(configDir, filename)
	data, err := ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read file: %q, error: %v", absPath, err)
	}
	return data, nil
}

func setDefaults(config interface{}) {
	t := reflect.TypeOf(config).Elem()
	v := reflect.ValueOf(config).Elem()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		defaultTag := field.Tag.Get("default")
		if defaultTag == "" || !value.IsZero() {
			continue
		}
		switch value.Kind() {
		case reflect.String:
			value.SetString(defaultTag)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if n, err := strconv.ParseInt(defaultTag, 10, 64); err == nil {
				value.SetInt(n)
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if n, err := strconv.ParseUint(defaultTag, 10, 64); err == nil {
				value.SetUint(n)
			}
		case reflect.Bool:
			if b, err := strconv.ParseBool(defaultTag); err == nil {
				value.SetBool(b)
			}
		}
	}
}

// LoadConfig reads a Yaml configuration file from the specified path with
// filename and unmarshals it into the provided struct (v), then applies any
// `default` struct tags to fields left at their zero value.
func LoadConfig(configDir, configFile string, v interface{}) error {
	yamlData, err := ReadFileFromDir(configDir, configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration file: %v", err)
	}

	if err := yaml.Unmarshal(yamlData, v); err != nil {
		return fmt.Errorf("failed to unmarshal configuration file: %v", err)
	}

	setDefaults(v)
	return nil
}

// GenerateHashFromPassword bcrypt-hashes data, used to gate the factory
// tool's WRITELOCK operation behind an operator password.
func GenerateHashFromPassword(data []byte) ([]byte, error) {
	hashData, err := bcrypt.GenerateFromPassword(data, bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("generate hash fail: %w", err)
	}
	return hashData, nil
}

func CompareHashAndPassword(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return fmt.Errorf("compare hash fail: %w", err)
	}
	return nil
}
