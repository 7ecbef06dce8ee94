package metadata

// Vocabulary namespaces used by the provenance document.
const (
	NSDVCore  = "https://dataverse.org/schema/core#"
	NSDans    = "https://dar.dans.knaw.nl/schema/dansDataVaultMetadata#"
	NSSchema  = "http://schema.org/"
	NSDCTerms = "http://purl.org/dc/terms/"
	NSORE     = "http://www.openarchives.org/ore/terms/"
)

// Properties read by the extractor.
const (
	PropDescribes      = NSORE + "describes"
	PropBagID          = NSDans + "dansBagId"
	PropNbn            = NSDans + "dansNbn"
	PropOtherID        = NSDans + "dansOtherId"
	PropOtherIDVersion = NSDans + "dansOtherIdVersion"
	PropSwordToken     = NSDans + "dansSwordToken"
	PropDataSupplier   = NSDans + "dansDataSupplier"
	PropTitle          = NSDCTerms + "title"
	PropVersion        = NSSchema + "version"
	PropName           = NSSchema + "name"
	PropGeneratedBy    = NSDVCore + "generatedBy"
)
