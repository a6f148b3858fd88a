// Package main CreditGate API
//
//	@title						CreditGate API
//	@version					1.0
//	@description				Quota-enforced credit consumption for image generation.
//
//	@contact.name				CreditGate Support
//
//	@license.name				Proprietary
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"
//
//	@tag.name					Generation
//	@tag.description			Image generation and credit balance
//
//	@tag.name					Payment
//	@tag.description			Payment provider webhooks
//
//	@tag.name					Internal
//	@tag.description			Service-to-service credit grants
//
//	@tag.name					Admin
//	@tag.description			Read-only ledger and usage views
package main
