/*
Copyright 2024 Cartera Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/crediflow/cartera"
	"github.com/crediflow/cartera/config"
	"github.com/crediflow/cartera/database"
	"github.com/crediflow/cartera/internal/notification"
)

// Cartera represents the CLI application, encapsulating the root Cobra command.
type Cartera struct {
	cmd *cobra.Command
}

// carteraInstance holds the engine instance and its configuration, shared by
// all subcommands through the pre-run hook.
type carteraInstance struct {
	cartera *cartera.Cartera
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the engine before running
// any command.
func preRun(app *carteraInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("cartera.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newCartera, err := setupCartera(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.cartera = newCartera
		app.cnf = cnf

		return nil
	}
}

// setupCartera creates and initializes the causation engine from the provided
// configuration, connecting the data source along the way.
func setupCartera(cfg *config.Configuration) (*cartera.Cartera, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newCartera, err := cartera.NewCartera(db)
	if err != nil {
		return nil, fmt.Errorf("error creating cartera: %v", err)
	}
	return newCartera, nil
}

// NewCLI creates the command-line interface for the causation engine. It sets
// up the root command and the worker, scheduler and migration subcommands.
func NewCLI() *Cartera {
	var configFile string
	b := &carteraInstance{}

	var rootCmd = &cobra.Command{
		Use:   "cartera",
		Short: "Loan portfolio causation engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./cartera.json", "Configuration file for the causation engine")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(schedulerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &Cartera{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during
// execution.
func (w Cartera) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
