package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BenDundee/ravana/internal/agents"
	"github.com/BenDundee/ravana/internal/config"
	"github.com/BenDundee/ravana/internal/prompt"
)

// personaCmd groups persona commands
var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Show or update the coaching persona",
}

var personaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print persona.yml",
	Args:  cobra.NoArgs,
	RunE:  personaShow,
}

var personaSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update persona fields and save persona.yml",
	Long: `Updates only the fields given on the command line. List flags replace
the whole list.

Example:
  ravana persona set --name Dana --role "VP Engineering" --goal "delegate more"`,
	Args: cobra.NoArgs,
	RunE: personaSet,
}

// promptCmd groups prompt commands
var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Inspect agent prompts",
}

var promptShowCmd = &cobra.Command{
	Use:   "show [agent]",
	Short: "Print an agent's model, parameters and rendered system prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  promptShow,
}

var personaFlags struct {
	name, role, organization, style, notes string
	goals, challenges                      []string
}

func init() {
	f := personaSetCmd.Flags()
	f.StringVar(&personaFlags.name, "name", "", "Name")
	f.StringVar(&personaFlags.role, "role", "", "Role")
	f.StringVar(&personaFlags.organization, "organization", "", "Organization")
	f.StringSliceVar(&personaFlags.goals, "goal", nil, "Goal (repeatable)")
	f.StringSliceVar(&personaFlags.challenges, "challenge", nil, "Challenge (repeatable)")
	f.StringVar(&personaFlags.style, "style", "", "Communication style")
	f.StringVar(&personaFlags.notes, "notes", "", "Free-form notes")

	personaCmd.AddCommand(personaShowCmd)
	personaCmd.AddCommand(personaSetCmd)
	promptCmd.AddCommand(promptShowCmd)
}

func personaShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p := cfg.Persona()
	if p.IsEmpty() {
		fmt.Fprintln(cmd.OutOrStdout(), "No persona configured.")
		return nil
	}
	out, err := yaml.Marshal(p.Summary())
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

func personaSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p := applyPersonaFlags(cmd, cfg.Persona())
	if err := cfg.UpdatePersona(p); err != nil {
		return fmt.Errorf("failed to save persona: %w", err)
	}
	logger.Info("Persona updated", zap.String("name", p.Name))
	fmt.Fprintln(cmd.OutOrStdout(), "Persona saved.")
	return nil
}

// applyPersonaFlags overwrites the fields whose flags were set.
func applyPersonaFlags(cmd *cobra.Command, p config.Persona) config.Persona {
	flags := cmd.Flags()
	if flags.Changed("name") {
		p.Name = personaFlags.name
	}
	if flags.Changed("role") {
		p.Role = personaFlags.role
	}
	if flags.Changed("organization") {
		p.Organization = personaFlags.organization
	}
	if flags.Changed("goal") {
		p.Goals = personaFlags.goals
	}
	if flags.Changed("challenge") {
		p.Challenges = personaFlags.challenges
	}
	if flags.Changed("style") {
		p.CommunicationStyle = personaFlags.style
	}
	if flags.Changed("notes") {
		p.Notes = personaFlags.notes
	}
	return p
}

func promptShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := cfg.PromptPath(args[0])
	if err != nil {
		return err
	}
	spec, err := prompt.NewHandler(path).Read()
	if err != nil {
		return err
	}

	gen := prompt.NewGenerator(spec.SystemPrompt, prompt.FuncProvider{
		Name: agents.PersonaTitle,
		Fn:   func() string { return cfg.Persona().String() },
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Agent:  %s\nPrompt: %s\nModel:  %s\n", args[0], path, spec.Model)
	if len(spec.APIParameters) > 0 {
		keys := make([]string, 0, len(spec.APIParameters))
		for k := range spec.APIParameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var params []string
		for _, k := range keys {
			params = append(params, fmt.Sprintf("%s=%v", k, spec.APIParameters[k]))
		}
		fmt.Fprintf(out, "Params: %s\n", strings.Join(params, ", "))
	}
	fmt.Fprintf(out, "\n%s\n", gen.Generate())
	return nil
}
