package tsl

// Profession OIDs carried in telematik QES and institution
// certificates (subject Admission extension).
const (
	OidArzt                  = "1.2.276.0.76.4.30"
	OidZahnarzt              = "1.2.276.0.76.4.31"
	OidApotheker             = "1.2.276.0.76.4.32"
	OidApothekerassistent    = "1.2.276.0.76.4.33"
	OidPharmazieingenieur    = "1.2.276.0.76.4.34"
	OidPharmTechnAssistent   = "1.2.276.0.76.4.35"
	OidPharmKaufmAngestellte = "1.2.276.0.76.4.36"
	OidApothekenhelfer       = "1.2.276.0.76.4.37"
	OidApothekenassistent    = "1.2.276.0.76.4.38"
	OidPharmAssistent        = "1.2.276.0.76.4.39"
	OidApothekenfacharbeiter = "1.2.276.0.76.4.40"
	OidPharmaziepraktikant   = "1.2.276.0.76.4.41"
	OidFamulant              = "1.2.276.0.76.4.42"
	OidPtaPraktikant         = "1.2.276.0.76.4.43"
	OidPkaAuszubildender     = "1.2.276.0.76.4.44"
	OidPsychotherapeut       = "1.2.276.0.76.4.45"
	OidPsPsychotherapeut     = "1.2.276.0.76.4.46"
	OidKujPsychotherapeut    = "1.2.276.0.76.4.47"
	OidRettungsassistent     = "1.2.276.0.76.4.48"
	OidVersicherter          = "1.2.276.0.76.4.49"
	OidNotfallsanitaeter     = "1.2.276.0.76.4.178"
	OidAerztekammern         = "1.3.6.1.4.1.24796.4.11.1"

	OidPraxisArzt             = "1.2.276.0.76.4.50"
	OidZahnarztpraxis         = "1.2.276.0.76.4.51"
	OidPraxisPsychotherapeut  = "1.2.276.0.76.4.52"
	OidKrankenhaus            = "1.2.276.0.76.4.53"
	OidOeffentlicheApotheke   = "1.2.276.0.76.4.54"
	OidKrankenhausapotheke    = "1.2.276.0.76.4.55"
	OidBundeswehrapotheke     = "1.2.276.0.76.4.56"
	OidMobileEinrichtungRett  = "1.2.276.0.76.4.57"
	OidBsGematik              = "1.2.276.0.76.4.58"
	OidKostentraeger          = "1.2.276.0.76.4.59"
)

// QESPrescriptionRoles is the role set a QES prescription signer
// certificate must carry at least one of.
var QESPrescriptionRoles = []string{
	OidArzt,
	OidZahnarzt,
	OidAerztekammern,
}
