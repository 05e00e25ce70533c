// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package catalog holds the fixed option lists offered by the wizard, one per
// category, together with the labels each category uses in the form, the
// review step and the generated prompt.
package catalog

// Category identifies one multi-select group of the technology step.
type Category string

const (
	// CloudProviders lists public cloud vendors
	CloudProviders Category = "cloudProviders"
	// Virtualization lists virtualization and container platforms
	Virtualization Category = "virtualization"
	// IaC lists infrastructure-as-code and configuration management tools
	IaC Category = "iac"
	// CICD lists continuous integration and delivery systems
	CICD Category = "cicd"
	// Monitoring lists monitoring, logging and observability stacks
	Monitoring Category = "monitoring"
	// Networking lists networking and security concerns
	Networking Category = "networking"

	// MainEnvironment is the single-choice field of the first step
	MainEnvironment = "mainEnvironment"
)

// Main environment labels
const (
	EnvCloud      = "Cloud"
	EnvOnPremise  = "On-Premise"
	EnvHybrid     = "Hybrid"
	EnvMultiCloud = "Multi-Cloud"
)

// Group describes a multi-select category
type Group struct {
	Category Category `json:"category"`
	// Title is the heading shown on the technology step
	Title string `json:"title"`
	// ReviewTitle is the heading shown on the review step
	ReviewTitle string `json:"review_title"`
	// PromptLabel prefixes the category line in the generated prompt
	PromptLabel string   `json:"prompt_label"`
	Options     []string `json:"options"`
}

// EnvironmentOption is one choice of the main environment
type EnvironmentOption struct {
	Value       string `json:"value"`
	Description string `json:"description"`
}

var environments = []EnvironmentOption{
	{Value: EnvCloud, Description: "Public cloud"},
	{Value: EnvOnPremise, Description: "Private data center"},
	{Value: EnvHybrid, Description: "Cloud + On-Premise"},
	{Value: EnvMultiCloud, Description: "Multiple public clouds"},
}

// groups is declared in the order categories appear in the form and the prompt.
var groups = []Group{
	{
		Category:    CloudProviders,
		Title:       "Cloud Providers",
		ReviewTitle: "Cloud Providers",
		PromptLabel: "Cloud Providers",
		Options: []string{
			"AWS",
			"Microsoft Azure",
			"Google Cloud Platform (GCP)",
			"Oracle Cloud Infrastructure (OCI)",
			"DigitalOcean",
		},
	},
	{
		Category:    Virtualization,
		Title:       "Virtualization and Containers",
		ReviewTitle: "Virtualization and Containers",
		PromptLabel: "Virtualization and Containers",
		Options: []string{
			"Docker",
			"Kubernetes (K8s)",
			"OpenShift",
			"VMware vSphere / ESXi",
			"Microsoft Hyper-V",
			"Serverless / Functions (Lambda, Azure Functions, etc.)",
		},
	},
	{
		Category:    IaC,
		Title:       "IaC and Configuration Management",
		ReviewTitle: "IaC",
		PromptLabel: "IaC and Configuration Management",
		Options: []string{
			"Terraform",
			"Ansible",
			"Puppet",
			"Chef",
			"AWS CloudFormation",
			"Azure Resource Manager (ARM) / Bicep",
		},
	},
	{
		Category:    CICD,
		Title:       "CI/CD - Continuous Integration and Delivery",
		ReviewTitle: "CI/CD",
		PromptLabel: "CI/CD",
		Options: []string{
			"Jenkins",
			"GitLab CI/CD",
			"GitHub Actions",
			"Azure DevOps Pipelines",
			"ArgoCD (GitOps)",
		},
	},
	{
		Category:    Monitoring,
		Title:       "Monitoring, Logging and Observability",
		ReviewTitle: "Monitoring",
		PromptLabel: "Monitoring and Observability",
		Options: []string{
			"Prometheus + Grafana",
			"Datadog",
			"New Relic",
			"Splunk",
			"ELK Stack (Elasticsearch, Logstash, Kibana)",
			"Native Services (CloudWatch, Azure Monitor, etc.)",
		},
	},
	{
		Category:    Networking,
		Title:       "Networking and Security",
		ReviewTitle: "Networking and Security",
		PromptLabel: "Networking and Security",
		Options: []string{
			"VPC/VNet Configuration",
			"Firewalls and Security Rules",
			"Load Balancers (Application/Network)",
			"VPN (Site-to-Site, Client-to-Site)",
			"DNS",
			"WAF (Web Application Firewall)",
			"Identity and Access Management (IAM)",
			"Secrets Management (Vault, Secrets Manager)",
		},
	},
}

// cloudEnvironments are the main environments that involve a public cloud.
var cloudEnvironments = map[string]bool{
	EnvCloud:      true,
	EnvHybrid:     true,
	EnvMultiCloud: true,
}

// Environments returns the main environment choices in display order
func Environments() []EnvironmentOption {
	out := make([]EnvironmentOption, len(environments))
	copy(out, environments)
	return out
}

// Groups returns every multi-select category in declaration order
func Groups() []Group {
	out := make([]Group, len(groups))
	for i, g := range groups {
		out[i] = g
		out[i].Options = append([]string(nil), g.Options...)
	}
	return out
}

// Lookup returns the group for a category
func Lookup(c Category) (Group, bool) {
	for _, g := range groups {
		if g.Category == c {
			return g, true
		}
	}
	return Group{}, false
}

// HasOption reports whether value is one of the category's options
func HasOption(c Category, value string) bool {
	g, ok := Lookup(c)
	if !ok {
		return false
	}
	for _, o := range g.Options {
		if o == value {
			return true
		}
	}
	return false
}

// IsEnvironment reports whether value is a main environment label
func IsEnvironment(value string) bool {
	for _, e := range environments {
		if e.Value == value {
			return true
		}
	}
	return false
}

// InvolvesCloud reports whether the main environment uses a public cloud.
// Matching is exact against the catalog labels.
func InvolvesCloud(environment string) bool {
	return cloudEnvironments[environment]
}
